// Package activitylog owns the append-only table that triggers write into and
// pollers read from. Rows are only ever compared by id.
package activitylog

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/tablewatch/tablewatch/schema"
)

// DefaultTable is the well-known activity log table name
const DefaultTable = "db_activity_log"

var dialect = goqu.Dialect("mysql")

// DB is satisfied by *sql.DB and *sql.Conn
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Record is one row of the activity log
type Record struct {
	ID        int64
	Action    string // INSERT, UPDATE or DELETE
	TableName string
	RecordID  string
	Details   string
	CreatedAt time.Time
}

// Store reads and maintains one activity log table
type Store struct {
	DB    DB
	Table string
}

// New creates a Store over table, falling back to DefaultTable
func New(db DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{DB: db, Table: table}
}

// Ensure creates the log table if absent. An existing table is left untouched.
func (s *Store) Ensure(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
  action ENUM('INSERT','UPDATE','DELETE') NOT NULL,
  table_name VARCHAR(64) NOT NULL,
  record_id VARCHAR(255) NULL,
  details TEXT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  INDEX idx_action (action),
  INDEX idx_table_name (table_name),
  INDEX idx_created_at (created_at)
)`, schema.QuoteIdent(s.Table))

	if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure activity log %s: %w", s.Table, err)
	}
	return nil
}

// Truncate wipes every record
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "TRUNCATE TABLE "+schema.QuoteIdent(s.Table)); err != nil {
		return fmt.Errorf("failed to truncate activity log %s: %w", s.Table, err)
	}
	return nil
}

// ReadAfter returns up to limit records with id > cursor in ascending id order
func (s *Store) ReadAfter(ctx context.Context, cursor int64, limit int) ([]Record, error) {
	query, args, err := s.selectRecords().
		Where(goqu.C("id").Gt(cursor)).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build read query: %w", err)
	}
	return s.query(ctx, query, args)
}

// Recent returns the latest limit records in ascending id order
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	query, args, err := s.selectRecords().
		Order(goqu.C("id").Desc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build recent query: %w", err)
	}

	records, err := s.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)
	return records, nil
}

// Prune deletes records created before cutoff and returns how many were removed
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := dialect.Delete(s.Table).
		Where(goqu.C("created_at").Lt(cutoff)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build prune query: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity log %s: %w", s.Table, err)
	}
	return res.RowsAffected()
}

func (s *Store) selectRecords() *goqu.SelectDataset {
	return dialect.From(s.Table).
		Select("id", "action", "table_name", "record_id", "details", "created_at")
}

func (s *Store) query(ctx context.Context, query string, args []any) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log %s: %w", s.Table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var recordID, details sql.NullString
		if err := rows.Scan(&r.ID, &r.Action, &r.TableName, &recordID, &details, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		r.RecordID = recordID.String
		if !recordID.Valid {
			r.RecordID = schema.UnknownID
		}
		r.Details = details.String
		records = append(records, r)
	}
	return records, rows.Err()
}
