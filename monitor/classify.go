package monitor

import (
	"regexp"
	"strings"
)

// Statement is the classified shape of a running SQL statement
type Statement struct {
	Operation string
	Schema    string // Empty when the table reference is unqualified
	Table     string
}

// tableRef matches `db`.`table`, db.table, `table` or table
const tableRef = "(`[^`]+`|[\\w$]+)(?:\\s*\\.\\s*(`[^`]+`|[\\w$]+))?"

var classifiers = []struct {
	op string
	re *regexp.Regexp
}{
	{"SELECT", regexp.MustCompile(`(?is)^\s*SELECT\b.*?\bFROM\s+` + tableRef)},
	{"INSERT", regexp.MustCompile(`(?is)^\s*(?:INSERT|REPLACE)\s+(?:LOW_PRIORITY\s+|DELAYED\s+|HIGH_PRIORITY\s+)?(?:IGNORE\s+)?(?:INTO\s+)?` + tableRef)},
	{"UPDATE", regexp.MustCompile(`(?is)^\s*UPDATE\s+(?:LOW_PRIORITY\s+)?(?:IGNORE\s+)?` + tableRef)},
	{"DELETE", regexp.MustCompile(`(?is)^\s*DELETE\s+(?:LOW_PRIORITY\s+)?(?:QUICK\s+)?(?:IGNORE\s+)?FROM\s+` + tableRef)},
	{"CREATE", regexp.MustCompile(`(?is)^\s*CREATE\s+(?:TEMPORARY\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + tableRef)},
	{"ALTER", regexp.MustCompile(`(?is)^\s*ALTER\s+(?:ONLINE\s+)?(?:IGNORE\s+)?TABLE\s+` + tableRef)},
	{"DROP", regexp.MustCompile(`(?is)^\s*DROP\s+(?:TEMPORARY\s+)?TABLE\s+(?:IF\s+EXISTS\s+)?` + tableRef)},
	{"TRUNCATE", regexp.MustCompile(`(?is)^\s*TRUNCATE\s+(?:TABLE\s+)?` + tableRef)},
}

var systemSchemas = map[string]struct{}{
	"information_schema": {},
	"performance_schema": {},
	"mysql":              {},
	"sys":                {},
}

// Classify extracts the operation and target table from a statement by its
// leading keyword. Statements that match no known shape are not classified.
func Classify(stmt string) (Statement, bool) {
	for _, c := range classifiers {
		m := c.re.FindStringSubmatch(stmt)
		if m == nil {
			continue
		}
		st := Statement{Operation: c.op}
		if m[2] != "" {
			st.Schema = unquote(m[1])
			st.Table = unquote(m[2])
		} else {
			st.Table = unquote(m[1])
		}
		return st, true
	}
	return Statement{}, false
}

// IsSystemSchema reports whether name is one of MySQL's catalog schemas
func IsSystemSchema(name string) bool {
	_, ok := systemSchemas[strings.ToLower(name)]
	return ok
}

func unquote(ident string) string {
	return strings.Trim(ident, "`")
}
