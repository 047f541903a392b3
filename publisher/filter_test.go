package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGlobFilter(t *testing.T) {
	filter, err := NewGlobFilter([]string{"users", "orders"}, []string{"prod-eu", "prod-us"})
	require.NoError(t, err)

	assert.Len(t, filter.tableGlobs, 2)
	assert.Len(t, filter.connectionGlobs, 2)
}

func TestGlobFilterEmptyPatterns(t *testing.T) {
	filter, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("any", "any_table"))
	assert.True(t, filter.Match("", ""))
}

func TestGlobFilterMatch(t *testing.T) {
	filter, err := NewGlobFilter([]string{"user*", "orders"}, []string{"prod-*"})
	require.NoError(t, err)

	tests := []struct {
		connection, table string
		want              bool
	}{
		{"prod-eu", "users", true},
		{"prod-eu", "user_roles", true},
		{"prod-us", "orders", true},
		{"prod-us", "order_items", false},
		{"staging", "users", false},
		{"PROD-eu", "users", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, filter.Match(tt.connection, tt.table), "%s/%s", tt.connection, tt.table)
	}
}

func TestGlobFilterOnlyOneSide(t *testing.T) {
	tablesOnly, err := NewGlobFilter([]string{"audit_?"}, nil)
	require.NoError(t, err)
	assert.True(t, tablesOnly.Match("anything", "audit_1"))
	assert.False(t, tablesOnly.Match("anything", "audit_10"))

	connsOnly, err := NewGlobFilter(nil, []string{"{local,dev}"})
	require.NoError(t, err)
	assert.True(t, connsOnly.Match("local", "t"))
	assert.True(t, connsOnly.Match("dev", "t"))
	assert.False(t, connsOnly.Match("prod", "t"))
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[invalid"}, nil)
	assert.ErrorContains(t, err, "invalid table pattern")

	_, err = NewGlobFilter(nil, []string{"[invalid"})
	assert.ErrorContains(t, err, "invalid connection pattern")
}

func BenchmarkGlobFilterMatch(b *testing.B) {
	filter, _ := NewGlobFilter([]string{"users", "orders*", "products"}, []string{"prod-*"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		filter.Match("prod-eu", "orders_2024")
	}
}
