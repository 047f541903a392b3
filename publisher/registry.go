package publisher

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/monitor"
)

// RegistryConfig configures the export registry
type RegistryConfig struct {
	DataDir     string                  // publish log lives in {DataDir}/publish_log
	SinkConfigs []cfg.SinkConfiguration // From config
}

// Registry owns the publish log and one worker per configured sink.
// It is a monitor.Subscriber: delivered events are appended to the log.
type Registry struct {
	log     *PublishLog
	workers []*Worker
	sinks   atomic.Int32
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry opens the publish log and creates a worker per sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	pubLog, err := NewPublishLog(filepath.Join(config.DataDir, "publish_log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create publish log: %w", err)
	}

	r := &Registry{
		log:     pubLog,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := r.AddSink(sinkCfg); err != nil {
			r.closeSinks()
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().Int("sinks", len(r.workers)).Msg("Export registry initialized")
	return r, nil
}

// AddSink creates a worker for the sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterTables, config.FilterConnections)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	r.sinks.Add(1)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added export sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	for _, w := range r.workers {
		w.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop stops all workers, closes their sinks and the publish log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	for _, w := range r.workers {
		w.Stop()
	}
	r.closeSinks()

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}
	log.Info().Msg("Export registry stopped")
}

func (r *Registry) closeSinks() {
	for _, w := range r.workers {
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
		}
	}
}

// Append adds events to the publish log
func (r *Registry) Append(events []ExportEvent) error {
	if !r.running.Load() {
		return fmt.Errorf("registry not running")
	}
	return r.log.Append(events)
}

// Deliver implements monitor.Subscriber. Export failures are logged and never
// reach the monitoring session. Without sinks nothing would ever consume the
// log, so nothing is appended. Replayed rows at or below the connection's last
// appended id were exported by an earlier session and are skipped.
func (r *Registry) Deliver(ev monitor.Event) {
	if r.sinks.Load() == 0 || !r.running.Load() {
		return
	}
	if ev.Replay && ev.ID <= r.log.Mark(ev.ConnectionID) {
		return
	}
	events := ConvertEvents([]monitor.Event{ev})
	if len(events) == 0 {
		return
	}
	if err := r.log.Append(events); err != nil {
		log.Warn().Err(err).
			Str("connection", ev.ConnectionID).
			Int64("event_id", ev.ID).
			Msg("Failed to append event to publish log")
	}
}

// SinkStatus reports one worker's progress
type SinkStatus struct {
	Name   string `json:"name"`
	Cursor uint64 `json:"cursor"`
	Lag    uint64 `json:"lag"`
}

// Status returns per-sink cursors and their lag behind the log head
func (r *Registry) Status() []SinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	head := r.log.LastSeq()
	out := make([]SinkStatus, 0, len(r.workers))
	for _, w := range r.workers {
		c := w.Cursor()
		out = append(out, SinkStatus{Name: w.config.Name, Cursor: c, Lag: head - min(c, head)})
	}
	return out
}

// SinkFactory creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory creates a Transformer
type TransformerFactory func() Transformer

// factoryTable maps a config key (sink type, format) to its constructor.
type factoryTable[F any] struct {
	mu    sync.RWMutex
	kind  string
	byKey map[string]F
}

func newFactoryTable[F any](kind string) *factoryTable[F] {
	return &factoryTable[F]{kind: kind, byKey: make(map[string]F)}
}

func (t *factoryTable[F]) put(key string, f F) {
	t.mu.Lock()
	t.byKey[key] = f
	t.mu.Unlock()
}

func (t *factoryTable[F]) get(key string) (F, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.byKey[key]
	if !ok {
		return f, fmt.Errorf("unknown %s: %q", t.kind, key)
	}
	return f, nil
}

var (
	sinkFactories        = newFactoryTable[SinkFactory]("sink type")
	transformerFactories = newFactoryTable[TransformerFactory]("format")
)

// RegisterSink makes a sink type available to [cfg.SinkConfiguration].Type.
// Sink packages call it from init.
func RegisterSink(sinkType string, factory SinkFactory) { sinkFactories.put(sinkType, factory) }

// RegisterTransformer makes a wire format available to [cfg.SinkConfiguration].Format.
func RegisterTransformer(format string, factory TransformerFactory) {
	transformerFactories.put(format, factory)
}

// LookupSink returns the factory registered for a sink type
func LookupSink(sinkType string) (SinkFactory, bool) {
	f, err := sinkFactories.get(sinkType)
	return f, err == nil
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factory, err := sinkFactories.get(config.Type)
	if err != nil {
		return nil, err
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factory, err := transformerFactories.get(format)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}
