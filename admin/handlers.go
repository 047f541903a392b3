// Package admin exposes monitoring control, pull reads and the live event
// stream over HTTP.
package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/connstore"
	"github.com/tablewatch/tablewatch/monitor"
	"github.com/tablewatch/tablewatch/notify"
	"github.com/tablewatch/tablewatch/publisher"
)

// Monitor is the session registry as seen by the API
type Monitor interface {
	Start(ctx context.Context, id string) (*monitor.StartResult, error)
	Stop(ctx context.Context, id string, opts monitor.StopOptions) (*monitor.StopResult, error)
	RecentActivity(ctx context.Context, id string, sinceID int64) ([]monitor.Event, error)
	ExecuteTestOperations(ctx context.Context, id string) (*monitor.TestResult, error)
	Prune(ctx context.Context, id string, olderThan time.Duration) (int64, error)
	Sessions() []monitor.SessionInfo
	Active(id string) bool
}

// SinkReporter reports export sink progress
type SinkReporter interface {
	Status() []publisher.SinkStatus
}

// HandleOpener opens application handles for a stored connection, starting
// monitoring when the connection is auto-watched
type HandleOpener interface {
	Open(ctx context.Context, id string) (*sql.DB, error)
}

// connectionWriter is implemented by stores that can be edited at runtime
type connectionWriter interface {
	Save(ctx context.Context, c connstore.Connection) error
	Delete(ctx context.Context, id string) error
}

const defaultHeartbeat = 15 * time.Second

// Handlers serves the admin API
type Handlers struct {
	monitor   Monitor
	conns     connstore.Source
	hub       *notify.Hub
	exports   SinkReporter
	handles   HandleOpener
	heartbeat time.Duration
}

// NewHandlers wires the API to its collaborators. exports may be nil when no
// sinks are configured.
func NewHandlers(m Monitor, conns connstore.Source, hub *notify.Hub, exports SinkReporter) *Handlers {
	return &Handlers{
		monitor:   m,
		conns:     conns,
		hub:       hub,
		exports:   exports,
		heartbeat: defaultHeartbeat,
	}
}

// WithHandles enables connection checks through o
func (h *Handlers) WithHandles(o HandleOpener) *Handlers {
	h.handles = o
	return h
}

// response is the {success, message, ...} envelope every endpoint returns
type response map[string]any

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeSuccess writes a 200 envelope with success=true
func writeSuccess(w http.ResponseWriter, message string, fields response) {
	body := response{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeFailure writes an envelope with success=false
func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{"success": false, "message": message})
}

// writeError maps err to a status code and writes a failure envelope
func writeError(w http.ResponseWriter, err error) {
	writeFailure(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, connstore.ErrNotFound):
		return http.StatusNotFound
	case monitor.IsConfigError(err):
		return http.StatusBadRequest
	case errors.Is(err, monitor.ErrNotMonitoring):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parseSince parses the optional since query parameter; 0 when absent
func parseSince(r *http.Request) (int64, error) {
	s := r.URL.Query().Get("since")
	if s == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(s, 10, 64)
	if err != nil || since < 0 {
		return 0, fmt.Errorf("invalid since parameter: %q", s)
	}
	return since, nil
}

// parseBool parses an optional boolean query parameter
func parseBool(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter: %q", name, s)
	}
	return v, nil
}

// parseAge parses older_than as a Go duration, with "d" accepted for days
func parseAge(r *http.Request) (time.Duration, error) {
	s := r.URL.Query().Get("older_than")
	if s == "" {
		return 0, fmt.Errorf("older_than parameter is required")
	}
	if n, ok := cutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid older_than parameter: %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid older_than parameter: %q", s)
	}
	return d, nil
}

func cutSuffix(s, suffix string) (string, bool) {
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}
