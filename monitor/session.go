package monitor

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/tablewatch/tablewatch/activitylog"
	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/connstore"
)

// Session is the runtime state of one monitored connection
type Session struct {
	ConnectionID string
	Database     string
	Mode         cfg.MonitorMode
	DB           *sql.DB
	Store        *activitylog.Store
	StartedAt    time.Time

	cursor atomic.Int64
	seen   *SeenSet // processlist mode only

	cancel context.CancelFunc
	done   chan struct{}
}

// SessionInfo is a point-in-time view of a session
type SessionInfo struct {
	ConnectionID string          `json:"connection_id"`
	Database     string          `json:"database"`
	Mode         cfg.MonitorMode `json:"mode"`
	LogTable     string          `json:"log_table,omitempty"`
	Cursor       int64           `json:"cursor"`
	Seen         int             `json:"seen,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
}

func newSession(conn connstore.Connection, mode cfg.MonitorMode, db *sql.DB, logTable string) *Session {
	s := &Session{
		ConnectionID: conn.ID,
		Database:     conn.Database,
		Mode:         mode,
		DB:           db,
		StartedAt:    time.Now(),
		done:         make(chan struct{}),
	}
	if mode == cfg.ModeTrigger {
		s.Store = activitylog.New(db, logTable)
	}
	return s
}

// Cursor returns the highest delivered id
func (s *Session) Cursor() int64 {
	return s.cursor.Load()
}

// advance moves the cursor forward to id; it never moves backwards
func (s *Session) advance(id int64) bool {
	for {
		cur := s.cursor.Load()
		if id <= cur {
			return false
		}
		if s.cursor.CompareAndSwap(cur, id) {
			return true
		}
	}
}

// nextSeq hands out the next synthetic id in processlist mode
func (s *Session) nextSeq() int64 {
	return s.cursor.Add(1)
}

// Info snapshots the session
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ConnectionID: s.ConnectionID,
		Database:     s.Database,
		Mode:         s.Mode,
		Cursor:       s.Cursor(),
		StartedAt:    s.StartedAt,
	}
	if s.Store != nil {
		info.LogTable = s.Store.Table
	}
	if s.seen != nil {
		info.Seen = s.seen.Len()
	}
	return info
}
