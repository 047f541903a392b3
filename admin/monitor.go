package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/monitor"
)

func (h *Handlers) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connection")

	res, err := h.monitor.Start(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("connection", id).Msg("Start monitoring failed")
		writeError(w, err)
		return
	}
	writeSuccess(w, res.Message, response{"result": res})
}

func (h *Handlers) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connection")

	clearHistory, err := parseBool(r, "clear_history")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	removeTriggers, err := parseBool(r, "remove_triggers")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.monitor.Stop(r.Context(), id, monitor.StopOptions{
		ClearHistory:   clearHistory,
		RemoveTriggers: removeTriggers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res.Message, response{"stopped": res.Stopped, "warnings": res.Warnings})
}

func (h *Handlers) handleActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connection")

	since, err := parseSince(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.monitor.RecentActivity(r.Context(), id, since)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []monitor.Event{}
	}
	writeSuccess(w, "", response{"events": events, "count": len(events)})
}

func (h *Handlers) handleTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connection")

	res, err := h.monitor.ExecuteTestOperations(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "Test operations executed", response{"result": res})
}

func (h *Handlers) handlePrune(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connection")

	age, err := parseAge(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.monitor.Prune(r.Context(), id, age)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "", response{"deleted": deleted})
}

func (h *Handlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.monitor.Sessions()
	if sessions == nil {
		sessions = []monitor.SessionInfo{}
	}
	writeSuccess(w, "", response{"sessions": sessions, "count": len(sessions)})
}

func (h *Handlers) handleExports(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeSuccess(w, "", response{"sinks": []any{}})
		return
	}
	writeSuccess(w, "", response{"sinks": h.exports.Status()})
}
