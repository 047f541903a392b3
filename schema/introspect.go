// Package schema introspects MySQL table metadata for trigger synthesis.
//
// A TableSchema is a snapshot: it is rebuilt every time triggers are
// (re)installed and never cached across monitoring sessions, because the
// user's schema can change between starts.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
)

// UnknownID is the literal used when a row's identifier cannot be resolved
const UnknownID = "unknown"

// DefaultPreviewColumns is the preview set size used when none is configured
const DefaultPreviewColumns = 5

var dialect = goqu.Dialect("mysql")

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Column is one declared column of a table
type Column struct {
	Name         string
	IsPrimaryKey bool
	Position     int // 1-based declaration order
}

// TableSchema is the introspected snapshot used to build trigger bodies
type TableSchema struct {
	Schema         string
	Table          string
	Columns        []Column
	IDColumn       string   // Identifying column, empty when the table has no columns
	PreviewColumns []string // First K declared columns
}

// Introspect loads column metadata for schemaName.table and derives the
// identifying column and preview set. A table without columns yields a
// degenerate snapshot rather than an error.
func Introspect(ctx context.Context, q Querier, schemaName, table string, previewCount int) (*TableSchema, error) {
	query, args, err := dialect.From(goqu.T("COLUMNS").Schema("information_schema")).
		Select("COLUMN_NAME", "COLUMN_KEY").
		Where(
			goqu.C("TABLE_SCHEMA").Eq(schemaName),
			goqu.C("TABLE_NAME").Eq(table),
		).
		Order(goqu.C("ORDINAL_POSITION").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build column query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for %s.%s: %w", schemaName, table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var name string
		var key sql.NullString
		if err := rows.Scan(&name, &key); err != nil {
			return nil, fmt.Errorf("failed to scan column for %s.%s: %w", schemaName, table, err)
		}
		columns = append(columns, Column{
			Name:         name,
			IsPrimaryKey: key.String == "PRI",
			Position:     len(columns) + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return NewTableSchema(schemaName, table, columns, previewCount), nil
}

// NewTableSchema derives the identifying column and preview set from columns.
func NewTableSchema(schemaName, table string, columns []Column, previewCount int) *TableSchema {
	if previewCount <= 0 {
		previewCount = DefaultPreviewColumns
	}

	ts := &TableSchema{
		Schema:  schemaName,
		Table:   table,
		Columns: columns,
	}
	ts.IDColumn = identifyingColumn(columns)

	n := min(previewCount, len(columns))
	ts.PreviewColumns = make([]string, 0, n)
	for _, c := range columns[:n] {
		ts.PreviewColumns = append(ts.PreviewColumns, c.Name)
	}

	return ts
}

// identifyingColumn picks: primary key > id/uuid/key by name > first column.
func identifyingColumn(columns []Column) string {
	if len(columns) == 0 {
		return ""
	}
	for _, c := range columns {
		if c.IsPrimaryKey {
			return c.Name
		}
	}
	for _, c := range columns {
		switch strings.ToLower(c.Name) {
		case "id", "uuid", "key":
			return c.Name
		}
	}
	return columns[0].Name
}

// NewIDExpr is the identifier expression over the post-image row.
func (ts *TableSchema) NewIDExpr() string {
	return ts.idExpr("NEW")
}

// OldIDExpr is the identifier expression over the pre-image row.
func (ts *TableSchema) OldIDExpr() string {
	return ts.idExpr("OLD")
}

func (ts *TableSchema) idExpr(row string) string {
	if ts.IDColumn == "" {
		return QuoteString(UnknownID)
	}
	return fmt.Sprintf("COALESCE(CAST(%s.%s AS CHAR), %s)", row, QuoteIdent(ts.IDColumn), QuoteString(UnknownID))
}

// ColumnNames returns all column names in declaration order
func (ts *TableSchema) ColumnNames() []string {
	names := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		names[i] = c.Name
	}
	return names
}

// ListBaseTables returns the base tables (no views) of schemaName ordered by name
func ListBaseTables(ctx context.Context, q Querier, schemaName string) ([]string, error) {
	query, args, err := dialect.From(goqu.T("TABLES").Schema("information_schema")).
		Select("TABLE_NAME").
		Where(
			goqu.C("TABLE_SCHEMA").Eq(schemaName),
			goqu.C("TABLE_TYPE").Eq("BASE TABLE"),
		).
		Order(goqu.C("TABLE_NAME").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build table query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", schemaName, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
