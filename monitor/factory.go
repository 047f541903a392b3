package monitor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/connstore"
)

// HandleFactory opens application handles. A handle opened for a connection
// matching an auto-watch pattern also starts monitoring that connection.
type HandleFactory struct {
	source   connstore.Source
	opener   Opener
	registry *Registry
	watch    []glob.Glob
}

// NewHandleFactory compiles "host/database" auto-watch patterns
func NewHandleFactory(source connstore.Source, opener Opener, registry *Registry, autoWatch []string) (*HandleFactory, error) {
	f := &HandleFactory{
		source:   source,
		opener:   opener,
		registry: registry,
		watch:    make([]glob.Glob, 0, len(autoWatch)),
	}
	for _, pattern := range autoWatch {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid auto_watch pattern %q: %w", pattern, err)
		}
		f.watch = append(f.watch, g)
	}
	return f, nil
}

// Watched reports whether conn matches an auto-watch pattern
func (f *HandleFactory) Watched(conn connstore.Connection) bool {
	key := conn.Host + "/" + conn.Database
	for _, g := range f.watch {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// Open returns a new handle for id. When the connection is watched and not
// already monitored, monitoring is started; a failed start is logged and does
// not fail the handle.
func (f *HandleFactory) Open(ctx context.Context, id string) (*sql.DB, error) {
	conn, err := f.source.Lookup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	db, err := f.opener.Open(ctx, conn)
	if err != nil {
		return nil, err
	}

	if f.registry != nil && f.Watched(conn) && !f.registry.Active(id) {
		if _, err := f.registry.Start(ctx, id); err != nil {
			log.Warn().Err(err).Str("connection", id).Msg("Auto-watch failed to start monitoring")
		}
	}
	return db, nil
}

// WatchAll starts monitoring every watched connection in the source
func (f *HandleFactory) WatchAll(ctx context.Context) int {
	conns, err := f.source.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list connections for auto-watch")
		return 0
	}

	started := 0
	for _, conn := range conns {
		if !f.Watched(conn) || f.registry.Active(conn.ID) {
			continue
		}
		if _, err := f.registry.Start(ctx, conn.ID); err != nil {
			log.Warn().Err(err).Str("connection", conn.ID).Msg("Auto-watch failed to start monitoring")
			continue
		}
		started++
	}
	return started
}
