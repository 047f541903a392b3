package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/telemetry"
)

const (
	// Default interval between poll ticks
	DefaultPollInterval = time.Second
	// Default number of records read per tick
	DefaultBatchSize = 50
)

// errStale is returned by a tick whose session is no longer the registered one
var errStale = errors.New("session no longer registered")

// Poller performs one fetch-and-deliver pass per Tick
type Poller interface {
	Tick(ctx context.Context) (int, error)
	Mode() string
}

// LogPoller reads new activity log records after the session cursor
type LogPoller struct {
	session    *Session
	sub        Subscriber
	batchSize  int
	registered func() bool
}

// NewLogPoller creates a LogPoller. registered reports whether session is
// still the live session for its connection.
func NewLogPoller(session *Session, sub Subscriber, batchSize int, registered func() bool) *LogPoller {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &LogPoller{session: session, sub: sub, batchSize: batchSize, registered: registered}
}

func (p *LogPoller) Mode() string { return "trigger" }

// Tick delivers records with id > cursor in ascending order and advances the
// cursor to the highest delivered id. On error the cursor is unchanged.
func (p *LogPoller) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	records, err := p.session.Store.ReadAfter(ctx, p.session.Cursor(), p.batchSize)
	telemetry.PollDurationSeconds.With(p.Mode()).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}

	if ctx.Err() != nil || !p.registered() {
		return 0, errStale
	}

	for _, rec := range records {
		deliver(p.sub, FromRecord(p.session.ConnectionID, rec))
		p.session.advance(rec.ID)
	}
	return len(records), nil
}

// runPoller ticks p every interval until ctx is canceled or the session goes
// stale. It closes done on exit.
func runPoller(ctx context.Context, s *Session, p Poller, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !tick(ctx, s, p) {
				return
			}
		}
	}
}

// tick runs one pass and reports whether polling should continue
func tick(ctx context.Context, s *Session, p Poller) bool {
	n, err := p.Tick(ctx)
	switch {
	case errors.Is(err, errStale):
		telemetry.PollTicksTotal.With(p.Mode(), "stale").Inc()
		log.Debug().Str("connection", s.ConnectionID).Msg("Poller exiting, session replaced or stopped")
		return false
	case err != nil:
		telemetry.PollTicksTotal.With(p.Mode(), "failed").Inc()
		if ctx.Err() != nil {
			return false
		}
		log.Warn().
			Err(err).
			Str("connection", s.ConnectionID).
			Int64("cursor", s.Cursor()).
			Msg("Poll tick failed, retrying on next interval")
		return true
	}

	telemetry.PollTicksTotal.With(p.Mode(), "success").Inc()
	if n > 0 {
		log.Debug().
			Str("connection", s.ConnectionID).
			Int("count", n).
			Int64("cursor", s.Cursor()).
			Msg("Delivered activity")
	}
	return true
}
