package publisher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/telemetry"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
)

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string        // Sink name (cursor key)
	Log             *PublishLog   // Publish log to read from
	Sink            Sink          // Destination sink
	Transformer     Transformer   // Payload format
	Filter          Filter        // Connection/table filter
	TopicPrefix     string        // e.g. "tablewatch"
	BatchSize       int           // Events per poll cycle
	PollInterval    time.Duration // Idle poll interval
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Attempts before the worker gives up
}

// Worker reads the publish log from its cursor and publishes to one sink
type Worker struct {
	config      WorkerConfig
	cursor      uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates config, fills defaults and loads the persisted cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Log == nil:
		return nil, fmt.Errorf("publish log is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Transformer == nil:
		return nil, fmt.Errorf("transformer is required")
	case config.Filter == nil:
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.GetCursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	// a new sink starts at the oldest entry still in the log
	if cursor == 0 {
		first, err := config.Log.ReadFrom(0, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to find earliest entry: %w", err)
		}
		if len(first) > 0 {
			cursor = first[0].SeqNum - 1
		}
	}

	return &Worker{
		config: config,
		cursor: cursor,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.cursor).Msg("Starting export worker")

	go w.pollLoop()
}

// Stop stops the worker and waits for its goroutine
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("sink", w.config.Name).Msg("Export worker stopped")
}

// Cursor returns the last sequence the worker has handled
func (w *Worker) Cursor() uint64 {
	return atomic.LoadUint64(&w.cursor)
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.Cursor(), w.config.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("sink", w.config.Name).Uint64("cursor", w.Cursor()).Msg("Failed to read publish log")
			w.sleep(w.config.PollInterval)
			continue
		}
		if len(events) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for _, ev := range events {
			if err := w.processEvent(ev); err != nil {
				log.Error().Err(err).Str("sink", w.config.Name).Uint64("seq", ev.SeqNum).Msg("Export worker giving up")
				return
			}
			atomic.StoreUint64(&w.cursor, ev.SeqNum)
		}
	}
}

// processEvent publishes one event with at-least-once semantics: publish first,
// then advance the cursor. Filtered events only advance the cursor.
func (w *Worker) processEvent(ev ExportEvent) error {
	if !w.config.Filter.Match(ev.ConnectionID, ev.Table) {
		w.advance(ev.SeqNum)
		return nil
	}

	data, err := w.config.Transformer.Transform(ev)
	if err != nil {
		return fmt.Errorf("failed to transform event: %w", err)
	}

	topic := w.buildTopic(ev.ConnectionID, ev.Table)
	if err := w.publishWithRetry(topic, ev.Key(), data); err != nil {
		return err
	}

	w.advance(ev.SeqNum)
	return nil
}

func (w *Worker) advance(seq uint64) {
	if err := w.config.Log.AdvanceCursor(w.config.Name, seq); err != nil {
		log.Warn().Err(err).Str("sink", w.config.Name).Uint64("seq", seq).
			Msg("Failed to advance sink cursor, event may be redelivered")
	}
}

// buildTopic returns {prefix}.{connection}.{table}; dots inside the parts are kept
func (w *Worker) buildTopic(connection, table string) string {
	parts := []string{connection, table}
	if w.config.TopicPrefix != "" {
		parts = append([]string{w.config.TopicPrefix}, parts...)
	}
	return strings.Join(parts, ".")
}

// publishWithRetry publishes with exponential backoff until success,
// MaxRetries attempts, or Stop
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := w.config.Sink.Publish(topic, key, data)
		telemetry.SinkPublishSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			telemetry.SinkPublishTotal.With(w.config.Name, "success").Inc()
			return nil
		}

		if attempt >= w.config.MaxRetries {
			telemetry.SinkPublishTotal.With(w.config.Name, "failed").Inc()
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		telemetry.SinkPublishTotal.With(w.config.Name, "retry").Inc()
		log.Warn().Err(err).
			Str("sink", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep returns false when the worker was stopped first
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
