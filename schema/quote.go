package schema

import "strings"

// QuoteIdent quotes a MySQL identifier with backticks, doubling embedded backticks.
// All identifiers interpolated into generated SQL must pass through here.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QualifiedName returns `schema`.`name`, or just `name` when schema is empty.
func QualifiedName(schemaName, name string) string {
	if schemaName == "" {
		return QuoteIdent(name)
	}
	return QuoteIdent(schemaName) + "." + QuoteIdent(name)
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `''`)

// QuoteString renders s as a single-quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}
