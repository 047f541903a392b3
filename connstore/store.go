// Package connstore resolves connection identifiers into MySQL connection
// definitions. The monitoring core only reads from it.
package connstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tablewatch/tablewatch/cfg"
)

// ErrNotFound is returned when no connection exists for an identifier
var ErrNotFound = errors.New("connection not found")

// Connection identifies a logical MySQL target
type Connection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	Database string `json:"database"`
}

// ValidationError reports missing required connection fields
type ValidationError struct {
	ID      string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("connection %s is missing required fields: %s", e.ID, strings.Join(e.Missing, ", "))
}

// Validate checks that host, port, username and database are present
func (c Connection) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Port <= 0 {
		missing = append(missing, "port")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Database == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		return &ValidationError{ID: c.ID, Missing: missing}
	}
	return nil
}

// Address returns host:port
func (c Connection) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Source looks up connections by identifier
type Source interface {
	Lookup(ctx context.Context, id string) (Connection, error)
	List(ctx context.Context) ([]Connection, error)
}

// ConfigStore serves connections declared in the configuration file
type ConfigStore struct {
	byID  map[string]Connection
	order []string
}

// NewConfigStore builds a store from [[connections]] entries
func NewConfigStore(entries []cfg.ConnectionConfiguration) *ConfigStore {
	s := &ConfigStore{
		byID:  make(map[string]Connection, len(entries)),
		order: make([]string, 0, len(entries)),
	}
	for _, e := range entries {
		if _, dup := s.byID[e.ID]; !dup {
			s.order = append(s.order, e.ID)
		}
		s.byID[e.ID] = Connection{
			ID:       e.ID,
			Name:     e.Name,
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: e.Password,
			Database: e.Database,
		}
	}
	return s
}

// Lookup returns the connection with the given id
func (s *ConfigStore) Lookup(_ context.Context, id string) (Connection, error) {
	c, ok := s.byID[id]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// List returns connections in declaration order
func (s *ConfigStore) List(_ context.Context) ([]Connection, error) {
	out := make([]Connection, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}
