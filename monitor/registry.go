// Package monitor runs live monitoring sessions: one poller per connection,
// reading either the trigger-fed activity log or the server's process list,
// and delivering normalized events to a Subscriber.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/activitylog"
	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/connstore"
	"github.com/tablewatch/tablewatch/schema"
	"github.com/tablewatch/tablewatch/telemetry"
	"github.com/tablewatch/tablewatch/trigger"
)

var (
	// ErrUnknownConnection is returned when the connection id cannot be resolved
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNotMonitoring is returned by session-scoped operations without a live session
	ErrNotMonitoring = errors.New("not monitoring")
)

// IsConfigError reports whether err was caused by a missing or incomplete
// connection definition rather than by the database
func IsConfigError(err error) bool {
	var verr *connstore.ValidationError
	return errors.Is(err, ErrUnknownConnection) || errors.As(err, &verr)
}

// Config tunes session behavior
type Config struct {
	Mode             cfg.MonitorMode
	LogTable         string
	PollInterval     time.Duration
	BatchSize        int
	InitialBatchSize int
	DedupCapacity    int
	DedupEvict       int
}

// ConfigFromSettings maps the [monitor] configuration section
func ConfigFromSettings(m cfg.MonitorConfiguration) Config {
	return Config{
		Mode:             m.Mode,
		LogTable:         m.LogTable,
		PollInterval:     time.Duration(m.PollIntervalMS) * time.Millisecond,
		BatchSize:        m.BatchSize,
		InitialBatchSize: m.InitialBatchSize,
		DedupCapacity:    m.DedupCapacity,
		DedupEvict:       m.DedupEvict,
	}
}

// StartResult describes a successful start
type StartResult struct {
	ConnectionID string          `json:"connection_id"`
	Mode         cfg.MonitorMode `json:"mode"`
	Tables       int             `json:"tables"`
	Triggers     int             `json:"triggers"`
	Failed       []string        `json:"failed_tables,omitempty"`
	Seeded       int             `json:"seeded"`
	Cursor       int64           `json:"cursor"`
	Replaced     bool            `json:"replaced"`
	Message      string          `json:"message"`
}

// StopOptions selects optional cleanup on stop
type StopOptions struct {
	ClearHistory   bool
	RemoveTriggers bool
}

// StopResult describes a stop request. Stopped is false when there was no
// session to stop.
type StopResult struct {
	Stopped  bool     `json:"stopped"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings,omitempty"`
}

// TestResult describes an ExecuteTestOperations run
type TestResult struct {
	Table      string   `json:"table"`
	Operations []string `json:"operations"`
}

// Name of the disposable table used by ExecuteTestOperations
const TestTable = "tablewatch_test_operations"

// Registry owns all live sessions, at most one per connection id
type Registry struct {
	config    Config
	source    connstore.Source
	opener    Opener
	installer *trigger.Installer
	sub       Subscriber

	sessions *xsync.MapOf[string, *Session]
	locks    *xsync.MapOf[string, *sync.Mutex]
}

// NewRegistry creates a Registry. installer may be nil in processlist mode.
func NewRegistry(config Config, source connstore.Source, opener Opener, installer *trigger.Installer, sub Subscriber) *Registry {
	if config.Mode == "" {
		config.Mode = cfg.ModeTrigger
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.InitialBatchSize <= 0 {
		config.InitialBatchSize = DefaultBatchSize
	}
	return &Registry{
		config:    config,
		source:    source,
		opener:    opener,
		installer: installer,
		sub:       sub,
		sessions:  xsync.NewMapOf[string, *Session](),
		locks:     xsync.NewMapOf[string, *sync.Mutex](),
	}
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	return mu
}

func (r *Registry) isRegistered(s *Session) func() bool {
	return func() bool {
		cur, ok := r.sessions.Load(s.ConnectionID)
		return ok && cur == s
	}
}

// Active reports whether id has a live session
func (r *Registry) Active(id string) bool {
	_, ok := r.sessions.Load(id)
	return ok
}

// Start begins monitoring id, replacing any existing session for it
func (r *Registry) Start(ctx context.Context, id string) (*StartResult, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	begin := time.Now()
	res, err := r.start(ctx, id)
	telemetry.SessionStartSeconds.Observe(time.Since(begin).Seconds())

	switch {
	case err == nil:
		telemetry.SessionStartsTotal.With("success").Inc()
	case IsConfigError(err):
		telemetry.SessionStartsTotal.With("config_error").Inc()
	default:
		telemetry.SessionStartsTotal.With("failed").Inc()
	}
	return res, err
}

func (r *Registry) start(ctx context.Context, id string) (*StartResult, error) {
	res := &StartResult{ConnectionID: id, Mode: r.config.Mode}

	if _, ok := r.sessions.Load(id); ok {
		r.stopLocked(ctx, id, StopOptions{})
		res.Replaced = true
	}

	conn, err := r.source.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, connstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
		}
		return nil, fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	if r.config.Mode == cfg.ModeTrigger && r.installer == nil {
		return nil, fmt.Errorf("trigger mode requires a trigger installer")
	}

	db, err := r.opener.Open(ctx, conn)
	if err != nil {
		return nil, err
	}

	s := newSession(conn, r.config.Mode, db, r.config.LogTable)
	ok := false
	defer func() {
		if !ok {
			if cerr := db.Close(); cerr != nil {
				log.Warn().Err(cerr).Str("connection", id).Msg("Failed to close handle after failed start")
			}
		}
	}()

	var seed []Event
	var poller Poller
	switch s.Mode {
	case cfg.ModeTrigger:
		seed, err = r.prepareTriggers(ctx, s, res)
		if err != nil {
			return nil, err
		}
		poller = NewLogPoller(s, r.sub, r.config.BatchSize, r.isRegistered(s))
	case cfg.ModeProcessList:
		s.seen = NewSeenSet(r.config.DedupCapacity, r.config.DedupEvict)
		poller = NewProcessListPoller(s, r.sub, r.isRegistered(s))
	default:
		return nil, fmt.Errorf("unsupported monitor mode %q", s.Mode)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	r.sessions.Store(id, s)
	ok = true

	for _, ev := range seed {
		deliver(r.sub, ev)
	}
	res.Seeded = len(seed)

	res.Message = startMessage(s, res)
	deliver(r.sub, infoEvent(id, res.Message))

	// First pass runs inline so the subscriber catches up before the first interval
	tick(pollCtx, s, poller)
	res.Cursor = s.Cursor()

	go runPoller(pollCtx, s, poller, r.config.PollInterval)

	log.Info().
		Str("connection", id).
		Str("database", conn.Database).
		Str("mode", string(s.Mode)).
		Int("tables", res.Tables).
		Int("triggers", res.Triggers).
		Int64("cursor", res.Cursor).
		Msg("Monitoring started")

	return res, nil
}

// prepareTriggers ensures the log table, instruments every base table and
// returns the seed batch, positioning the cursor after it
func (r *Registry) prepareTriggers(ctx context.Context, s *Session, res *StartResult) ([]Event, error) {
	if err := s.Store.Ensure(ctx); err != nil {
		return nil, err
	}

	tables, err := schema.ListBaseTables(ctx, s.DB, s.Database)
	if err != nil {
		return nil, err
	}

	sum := r.installer.InstallAll(ctx, s.DB, s.Database, tables)
	res.Tables = sum.Tables
	res.Triggers = sum.Triggers
	res.Failed = sum.Failed

	records, err := s.Store.Recent(ctx, r.config.InitialBatchSize)
	if err != nil {
		return nil, err
	}

	seed := make([]Event, 0, len(records))
	for _, rec := range records {
		ev := FromRecord(s.ConnectionID, rec)
		ev.Replay = true
		seed = append(seed, ev)
		s.advance(rec.ID)
	}
	return seed, nil
}

func startMessage(s *Session, res *StartResult) string {
	if s.Mode == cfg.ModeProcessList {
		return fmt.Sprintf("Monitoring %s via process list", s.Database)
	}
	msg := fmt.Sprintf("Monitoring %s: %d triggers on %d tables", s.Database, res.Triggers, res.Tables)
	if len(res.Failed) > 0 {
		msg += fmt.Sprintf(" (%d tables failed)", len(res.Failed))
	}
	return msg
}

// Stop ends monitoring for id. Stopping an idle connection is not an error.
func (r *Registry) Stop(ctx context.Context, id string, opts StopOptions) (*StopResult, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	res := r.stopLocked(ctx, id, opts)
	if res.Stopped {
		telemetry.SessionStopsTotal.With("stopped").Inc()
	} else {
		telemetry.SessionStopsTotal.With("not_monitoring").Inc()
	}
	return res, nil
}

// stopLocked tears down the session for id. The registry entry is removed
// first so an in-flight tick discards its results; the handle is closed only
// after the poller has exited.
func (r *Registry) stopLocked(ctx context.Context, id string, opts StopOptions) *StopResult {
	s, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return &StopResult{Stopped: false, Message: "not monitoring"}
	}

	s.cancel()
	<-s.done

	res := &StopResult{Stopped: true, Message: "monitoring stopped"}

	if opts.ClearHistory && s.Store != nil {
		if err := s.Store.Truncate(ctx); err != nil {
			log.Warn().Err(err).Str("connection", id).Msg("Failed to clear activity history")
			res.Warnings = append(res.Warnings, err.Error())
		}
	}

	if opts.RemoveTriggers && r.installer != nil {
		if err := r.removeTriggers(ctx, s); err != nil {
			log.Warn().Err(err).Str("connection", id).Msg("Failed to remove triggers")
			res.Warnings = append(res.Warnings, err.Error())
		}
	}

	if err := s.DB.Close(); err != nil {
		log.Warn().Err(err).Str("connection", id).Msg("Failed to close monitoring handle")
		res.Warnings = append(res.Warnings, err.Error())
	}

	log.Info().
		Str("connection", id).
		Int64("cursor", s.Cursor()).
		Bool("clear_history", opts.ClearHistory).
		Bool("remove_triggers", opts.RemoveTriggers).
		Msg("Monitoring stopped")

	return res
}

func (r *Registry) removeTriggers(ctx context.Context, s *Session) error {
	tables, err := schema.ListBaseTables(ctx, s.DB, s.Database)
	if err != nil {
		return err
	}
	return r.installer.UninstallAll(ctx, s.DB, s.Database, tables)
}

// StopAll stops every session. Individual failures are logged and do not
// prevent the remaining sessions from stopping. Returns how many were stopped.
func (r *Registry) StopAll(ctx context.Context) int {
	var ids []string
	r.sessions.Range(func(id string, _ *Session) bool {
		ids = append(ids, id)
		return true
	})

	stopped := 0
	for _, id := range ids {
		res, err := r.Stop(ctx, id, StopOptions{})
		if err != nil {
			log.Error().Err(err).Str("connection", id).Msg("Failed to stop session during shutdown")
			continue
		}
		if res.Stopped {
			stopped++
		}
	}
	return stopped
}

// RecentActivity reads the session's activity log without moving its cursor.
// With sinceID > 0 it returns records after sinceID, otherwise the most
// recent batch. Process list sessions always return an empty list.
func (r *Registry) RecentActivity(ctx context.Context, id string, sinceID int64) ([]Event, error) {
	s, ok := r.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMonitoring, id)
	}
	if s.Store == nil {
		// process list sessions keep no log; their events are push-only
		return []Event{}, nil
	}

	var err error
	var records []activitylog.Record
	if sinceID > 0 {
		records, err = s.Store.ReadAfter(ctx, sinceID, r.config.InitialBatchSize)
	} else {
		records, err = s.Store.Recent(ctx, r.config.InitialBatchSize)
	}
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(records))
	for _, rec := range records {
		events = append(events, FromRecord(id, rec))
	}
	return events, nil
}

// Prune deletes activity log rows older than olderThan on a monitored
// trigger-mode connection and returns how many were removed
func (r *Registry) Prune(ctx context.Context, id string, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("prune age must be positive, got %s", olderThan)
	}
	s, ok := r.sessions.Load(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotMonitoring, id)
	}
	if s.Store == nil {
		return 0, fmt.Errorf("connection %s is monitored via process list and has no activity log", id)
	}

	n, err := s.Store.Prune(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	log.Info().Str("connection", id).Int64("rows", n).Dur("older_than", olderThan).Msg("Pruned activity log")
	return n, nil
}

// ExecuteTestOperations creates a disposable table on the monitored database,
// instruments it, runs one INSERT, UPDATE and DELETE against it, then drops it
func (r *Registry) ExecuteTestOperations(ctx context.Context, id string) (*TestResult, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, ok := r.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMonitoring, id)
	}

	table := schema.QualifiedName(s.Database, TestTable)
	res := &TestResult{Table: TestTable}

	run := func(label, stmt string, args ...any) error {
		if _, err := s.DB.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("%s failed: %w", label, err)
		}
		res.Operations = append(res.Operations, label)
		return nil
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INT NOT NULL AUTO_INCREMENT PRIMARY KEY, name VARCHAR(100) NULL, value INT NULL)", table)
	if err := run("CREATE", create); err != nil {
		return nil, err
	}
	defer func() {
		if _, err := s.DB.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			log.Warn().Err(err).Str("connection", id).Msg("Failed to drop test table")
		}
	}()

	if s.Mode == cfg.ModeTrigger {
		sum := r.installer.InstallAll(ctx, s.DB, s.Database, []string{TestTable})
		if len(sum.Failed) > 0 {
			return nil, fmt.Errorf("failed to instrument %s", TestTable)
		}
	}

	if err := run("INSERT", fmt.Sprintf("INSERT INTO %s (id, name, value) VALUES (1, ?, ?)", table), "test", 1); err != nil {
		return nil, err
	}
	if err := run("UPDATE", fmt.Sprintf("UPDATE %s SET name = ?, value = ? WHERE id = 1", table), "test-updated", 2); err != nil {
		return nil, err
	}
	if err := run("DELETE", fmt.Sprintf("DELETE FROM %s WHERE id = 1", table)); err != nil {
		return nil, err
	}
	return res, nil
}

// Sessions returns a snapshot of live sessions ordered by connection id
func (r *Registry) Sessions() []SessionInfo {
	var out []SessionInfo
	r.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s.Info())
		return true
	})
	slices.SortFunc(out, func(a, b SessionInfo) int {
		return strings.Compare(a.ConnectionID, b.ConnectionID)
	})
	return out
}

// SessionStats implements telemetry.SessionLister
func (r *Registry) SessionStats() []telemetry.SessionStat {
	sessions := r.Sessions()
	stats := make([]telemetry.SessionStat, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, telemetry.SessionStat{
			ConnectionID: s.ConnectionID,
			Mode:         string(s.Mode),
			Cursor:       s.Cursor,
		})
	}
	return stats
}
