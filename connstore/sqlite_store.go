package connstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const connectionsTable = "connections"

var sqliteDialect = goqu.Dialect("sqlite3")

// SQLiteStore persists connection definitions in a local SQLite file.
// It backs the admin tool's saved connections list.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the store at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open connection store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Opened SQLite connection store")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS connections (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL DEFAULT '',
		host     TEXT NOT NULL DEFAULT '',
		port     INTEGER NOT NULL DEFAULT 3306,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		"database" TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return fmt.Errorf("failed to create connections table: %w", err)
	}
	return nil
}

func selectConnections() *goqu.SelectDataset {
	return sqliteDialect.From(connectionsTable).
		Select("id", "name", "host", "port", "username", "password", "database")
}

// Lookup returns the connection with the given id
func (s *SQLiteStore) Lookup(ctx context.Context, id string) (Connection, error) {
	query, args, err := selectConnections().Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return Connection{}, err
	}

	var c Connection
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&c.ID, &c.Name, &c.Host, &c.Port, &c.Username, &c.Password, &c.Database)
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Connection{}, fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	return c, nil
}

// List returns all saved connections ordered by id
func (s *SQLiteStore) List(ctx context.Context) ([]Connection, error) {
	query, args, err := selectConnections().Order(goqu.C("id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.Name, &c.Host, &c.Port, &c.Username, &c.Password, &c.Database); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Save inserts or replaces a connection
func (s *SQLiteStore) Save(ctx context.Context, c Connection) error {
	if c.ID == "" {
		return fmt.Errorf("connection id is required")
	}

	record := goqu.Record{
		"id":       c.ID,
		"name":     c.Name,
		"host":     c.Host,
		"port":     c.Port,
		"username": c.Username,
		"password": c.Password,
		"database": c.Database,
	}
	update := goqu.Record{
		"name":     goqu.L("excluded.name"),
		"host":     goqu.L("excluded.host"),
		"port":     goqu.L("excluded.port"),
		"username": goqu.L("excluded.username"),
		"password": goqu.L("excluded.password"),
		"database": goqu.L(`excluded."database"`),
	}

	query, args, err := sqliteDialect.Insert(connectionsTable).
		Rows(record).
		OnConflict(goqu.DoUpdate("id", update)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save connection %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes a connection. Deleting an unknown id returns ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	query, args, err := sqliteDialect.Delete(connectionsTable).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete connection %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
