package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID      int64  `msgpack:"id"`
	Table   string `msgpack:"tbl"`
	Details string `msgpack:"details,omitempty"`
}

func TestRoundTripStruct(t *testing.T) {
	in := record{ID: 42, Table: "users", Details: "name: a → b"}

	data, err := Marshal(&in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshal_StringsStayStrings(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "alice", "n": 3})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, Unmarshal(data, &out))
	assert.IsType(t, "", out["name"])
	assert.Equal(t, "alice", out["name"])
}

func TestMarshal_CompactInts(t *testing.T) {
	small, err := Marshal(int64(1))
	require.NoError(t, err)
	assert.Len(t, small, 1)
}

func TestMarshal_DoesNotAliasPooledBuffer(t *testing.T) {
	a, err := Marshal("first")
	require.NoError(t, err)
	_, err = Marshal("second value that is longer")
	require.NoError(t, err)

	var s string
	require.NoError(t, Unmarshal(a, &s))
	assert.Equal(t, "first", s)
}

func TestUnmarshal_Garbage(t *testing.T) {
	var out record
	assert.Error(t, Unmarshal([]byte{0xc1}, &out))
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				in := record{ID: int64(id*1000 + i), Table: "t"}
				data, err := Marshal(&in)
				if !assert.NoError(t, err) {
					return
				}
				var out record
				if !assert.NoError(t, Unmarshal(data, &out)) {
					return
				}
				assert.Equal(t, in, out)
			}
		}(g)
	}
	wg.Wait()
}
