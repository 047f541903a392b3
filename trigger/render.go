// Package trigger synthesizes and installs the per-table AFTER INSERT/UPDATE/
// DELETE triggers that append activity records into the activity log table.
//
// Rendering is a pure function of the introspected schema snapshot; no column
// names are hardcoded. Identifiers come from the database's own catalog and are
// only backtick-quoted, never otherwise escaped.
package trigger

import (
	"fmt"
	"strings"

	"github.com/tablewatch/tablewatch/schema"
)

// DefaultPreviewValueLength bounds each previewed value in the details string
const DefaultPreviewValueLength = 100

// Event is a trigger timing event
type Event string

const (
	EventInsert Event = "INSERT"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
)

// Events lists the three instrumented events in install order
var Events = [3]Event{EventInsert, EventUpdate, EventDelete}

const (
	detailSeparator = ", "
	changeArrow     = " → "
	nullLiteral     = "NULL"
	changesVar      = "tw_changes"
)

// Name returns the deterministic trigger name for table and event
func Name(table string, ev Event) string {
	return fmt.Sprintf("%s_after_%s", table, strings.ToLower(string(ev)))
}

// Names returns the three trigger names for table
func Names(table string) [3]string {
	return [3]string{Name(table, EventInsert), Name(table, EventUpdate), Name(table, EventDelete)}
}

// Statements holds the rendered DDL for one table, indexed like Events
type Statements struct {
	Table   string
	Drops   [3]string
	Creates [3]string
}

// RenderOptions tunes generated trigger bodies
type RenderOptions struct {
	LogTable           string
	PreviewValueLength int
}

// Render builds DROP and CREATE statements for the three triggers of ts.
func Render(ts *schema.TableSchema, opts RenderOptions) *Statements {
	if opts.PreviewValueLength <= 0 {
		opts.PreviewValueLength = DefaultPreviewValueLength
	}

	st := &Statements{Table: ts.Table}
	for i, ev := range Events {
		name := schema.QualifiedName(ts.Schema, Name(ts.Table, ev))
		st.Drops[i] = "DROP TRIGGER IF EXISTS " + name

		var body string
		switch ev {
		case EventInsert:
			body = insertBody(ts, opts, "NEW", ts.NewIDExpr())
		case EventUpdate:
			body = updateBody(ts, opts)
		case EventDelete:
			body = insertBody(ts, opts, "OLD", ts.OldIDExpr())
		}

		st.Creates[i] = fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW\n%s",
			name, ev, schema.QualifiedName(ts.Schema, ts.Table), body)
	}
	return st
}

// valueExpr renders one previewed column value, bounded and NULL-safe.
func valueExpr(row, column string, maxLen int) string {
	return fmt.Sprintf("COALESCE(LEFT(CAST(%s.%s AS CHAR), %d), %s)",
		row, schema.QuoteIdent(column), maxLen, schema.QuoteString(nullLiteral))
}

// snapshotDetails renders "col: value" pairs over one row image.
func snapshotDetails(ts *schema.TableSchema, opts RenderOptions, row string) string {
	if len(ts.PreviewColumns) == 0 {
		return "NULL"
	}
	parts := make([]string, 0, len(ts.PreviewColumns))
	for _, col := range ts.PreviewColumns {
		parts = append(parts, fmt.Sprintf("CONCAT(%s, %s)",
			schema.QuoteString(col+": "), valueExpr(row, col, opts.PreviewValueLength)))
	}
	return fmt.Sprintf("CONCAT_WS(%s, %s)", schema.QuoteString(detailSeparator), strings.Join(parts, ", "))
}

// changeDetails renders "col: old → new" fragments for changed preview columns.
// Unchanged columns contribute NULL, which CONCAT_WS skips.
func changeDetails(ts *schema.TableSchema, opts RenderOptions) string {
	if len(ts.PreviewColumns) == 0 {
		return "''"
	}
	parts := make([]string, 0, len(ts.PreviewColumns))
	for _, col := range ts.PreviewColumns {
		q := schema.QuoteIdent(col)
		parts = append(parts, fmt.Sprintf("IF(NOT (OLD.%s <=> NEW.%s), CONCAT(%s, %s, %s, %s), NULL)",
			q, q,
			schema.QuoteString(col+": "),
			valueExpr("OLD", col, opts.PreviewValueLength),
			schema.QuoteString(changeArrow),
			valueExpr("NEW", col, opts.PreviewValueLength)))
	}
	return fmt.Sprintf("CONCAT_WS(%s, %s)", schema.QuoteString(detailSeparator), strings.Join(parts, ", "))
}

func logInsert(ts *schema.TableSchema, opts RenderOptions, action Event, idExpr, details string) string {
	return fmt.Sprintf("INSERT INTO %s (`action`, `table_name`, `record_id`, `details`) VALUES (%s, %s, %s, %s)",
		schema.QualifiedName(ts.Schema, opts.LogTable),
		schema.QuoteString(string(action)),
		schema.QuoteString(ts.Table),
		idExpr,
		details)
}

func insertBody(ts *schema.TableSchema, opts RenderOptions, row, idExpr string) string {
	action := EventInsert
	if row == "OLD" {
		action = EventDelete
	}
	return fmt.Sprintf("BEGIN\n  %s;\nEND",
		logInsert(ts, opts, action, idExpr, snapshotDetails(ts, opts, row)))
}

// updateBody appends a record only when at least one preview column changed.
func updateBody(ts *schema.TableSchema, opts RenderOptions) string {
	var b strings.Builder
	b.WriteString("BEGIN\n")
	fmt.Fprintf(&b, "  DECLARE %s TEXT;\n", changesVar)
	fmt.Fprintf(&b, "  SET %s = %s;\n", changesVar, changeDetails(ts, opts))
	fmt.Fprintf(&b, "  IF %s IS NOT NULL AND %s <> '' THEN\n", changesVar, changesVar)
	fmt.Fprintf(&b, "    %s;\n", logInsert(ts, opts, EventUpdate, ts.NewIDExpr(), changesVar))
	b.WriteString("  END IF;\n")
	b.WriteString("END")
	return b.String()
}
