package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin router. metrics is served without authentication
// at /metrics when non-nil.
func NewRouter(h *Handlers, token string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(token))

		r.Route("/monitor", func(r chi.Router) {
			r.Get("/sessions", h.handleSessions)

			r.Route("/{connection}", func(r chi.Router) {
				r.Post("/start", h.handleStart)
				r.Post("/stop", h.handleStop)
				r.Get("/activity", h.handleActivity)
				r.Post("/test", h.handleTest)
				r.Post("/prune", h.handlePrune)
				r.Get("/events", h.handleEvents)
			})
		})

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", h.handleListConnections)
			r.Put("/{connection}", h.handleSaveConnection)
			r.Delete("/{connection}", h.handleDeleteConnection)
			r.Post("/{connection}/check", h.handleCheckConnection)
		})

		r.Get("/exports", h.handleExports)
	})

	return r
}

// Server runs the admin API
type Server struct {
	srv *http.Server
}

// NewServer creates a server listening on bindAddress:port
func NewServer(bindAddress string, port int, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort(bindAddress, strconv.Itoa(port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start listens in the background; it fails fast if the port cannot be bound
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	log.Info().Str("address", s.srv.Addr).Msg("Admin API listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin API server failed")
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Event
// streams only end when their hub closes or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
