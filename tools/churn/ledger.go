package main

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Ledger counts committed writes by action and record id. Captured events are
// checked off against it.
type Ledger struct {
	expected *xsync.MapOf[string, int]
}

func NewLedger() *Ledger {
	return &Ledger{expected: xsync.NewMapOf[string, int]()}
}

func ledgerKey(action, recordID string) string {
	return action + ":" + recordID
}

// Record adds one expected event
func (l *Ledger) Record(op OpType, recordID string) {
	l.expected.Compute(ledgerKey(op.String(), recordID), func(old int, _ bool) (int, bool) {
		return old + 1, false
	})
}

// Match checks off one captured event; false means it was not expected
// (or already fully matched)
func (l *Ledger) Match(action, recordID string) bool {
	matched := false
	l.expected.Compute(ledgerKey(action, recordID), func(old int, loaded bool) (int, bool) {
		if !loaded || old == 0 {
			return 0, true
		}
		matched = true
		return old - 1, old == 1
	})
	return matched
}

// Outstanding returns how many expected events are still unmatched
func (l *Ledger) Outstanding() int {
	total := 0
	l.expected.Range(func(_ string, n int) bool {
		total += n
		return true
	})
	return total
}

// Missing lists up to limit unmatched "ACTION:recordId" entries, sorted
func (l *Ledger) Missing(limit int) []string {
	var out []string
	l.expected.Range(func(k string, n int) bool {
		if n > 0 {
			out = append(out, k)
		}
		return true
	})
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
