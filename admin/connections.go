package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/connstore"
	"github.com/tablewatch/tablewatch/monitor"
)

// connectionView is a stored connection plus its live monitoring state
type connectionView struct {
	connstore.Connection
	Monitoring bool `json:"monitoring"`
}

func (h *Handlers) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.conns.List(r.Context())
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		out = append(out, connectionView{Connection: c, Monitoring: h.monitor.Active(c.ID)})
	}
	writeSuccess(w, "", response{"connections": out, "count": len(out)})
}

func (h *Handlers) handleSaveConnection(w http.ResponseWriter, r *http.Request) {
	store, ok := h.conns.(connectionWriter)
	if !ok {
		writeFailure(w, http.StatusMethodNotAllowed, "connection store is read-only")
		return
	}

	// Password is not serialized on reads, so it is decoded separately here
	var body struct {
		connstore.Connection
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c := body.Connection
	c.ID = chi.URLParam(r, "connection")
	c.Password = body.Password

	if err := store.Save(r.Context(), c); err != nil {
		var verr *connstore.ValidationError
		if errors.As(err, &verr) {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("connection", c.ID).Msg("Connection saved")

	// a live session still polls through a handle opened with the old settings
	restarted := false
	message := "Connection saved"
	if h.monitor.Active(c.ID) {
		if _, err := h.monitor.Start(r.Context(), c.ID); err != nil {
			log.Warn().Err(err).Str("connection", c.ID).Msg("Failed to restart monitoring with saved settings")
			message = "Connection saved; restarting monitoring failed: " + err.Error()
		} else {
			restarted = true
		}
	}
	writeSuccess(w, message, response{
		"connection": c,
		"monitoring": h.monitor.Active(c.ID),
		"restarted":  restarted,
	})
}

func (h *Handlers) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	if h.handles == nil {
		writeFailure(w, http.StatusNotImplemented, "connection checks are not available")
		return
	}
	id := chi.URLParam(r, "connection")
	if _, err := h.conns.Lookup(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	db, err := h.handles.Open(r.Context(), id)
	if err != nil {
		if monitor.IsConfigError(err) {
			writeError(w, err)
			return
		}
		writeFailure(w, http.StatusBadGateway, err.Error())
		return
	}
	defer db.Close()

	if err := db.PingContext(r.Context()); err != nil {
		writeFailure(w, http.StatusBadGateway, "ping failed: "+err.Error())
		return
	}
	writeSuccess(w, "Connection reachable", response{"reachable": true, "monitoring": h.monitor.Active(id)})
}

func (h *Handlers) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	store, ok := h.conns.(connectionWriter)
	if !ok {
		writeFailure(w, http.StatusMethodNotAllowed, "connection store is read-only")
		return
	}
	id := chi.URLParam(r, "connection")

	// a session must not outlive its connection definition
	if h.monitor.Active(id) {
		if _, err := h.monitor.Stop(r.Context(), id, monitor.StopOptions{}); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	log.Info().Str("connection", id).Msg("Connection deleted")
	writeSuccess(w, "Connection deleted", nil)
}
