package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters events using glob patterns over connection ids and table names
type GlobFilter struct {
	tableGlobs      []glob.Glob
	connectionGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// Empty patterns match everything
func NewGlobFilter(tablePatterns, connectionPatterns []string) (*GlobFilter, error) {
	tables, err := compileGlobs("table", tablePatterns)
	if err != nil {
		return nil, err
	}
	conns, err := compileGlobs("connection", connectionPatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{tableGlobs: tables, connectionGlobs: conns}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Match returns true if the connection and table match the configured patterns
func (f *GlobFilter) Match(connection, table string) bool {
	return matchAny(f.connectionGlobs, connection) && matchAny(f.tableGlobs, table)
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
