package publisher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportEvents(n int, conn, table string) []ExportEvent {
	events := make([]ExportEvent, n)
	for i := range events {
		events[i] = ExportEvent{
			ConnectionID: conn,
			EventID:      int64(i + 1),
			Type:         "INSERT",
			Table:        table,
			RecordID:     fmt.Sprint(i + 1),
			Timestamp:    int64(1000 + i),
		}
	}
	return events
}

func TestNewPublishLog(t *testing.T) {
	dir := t.TempDir()

	pl, err := NewPublishLog(dir)
	require.NoError(t, err)
	defer pl.Close()

	assert.Equal(t, dir, pl.path)
	assert.Equal(t, uint64(0), pl.LastSeq())
}

func TestPublishLogAppendAndRead(t *testing.T) {
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	defer pl.Close()

	events := []ExportEvent{
		{ConnectionID: "local", EventID: 10, Type: "INSERT", Table: "users", RecordID: "1", Timestamp: 1000},
		{ConnectionID: "local", EventID: 11, Type: "UPDATE", Table: "users", RecordID: "1", Details: "name: a → b", Timestamp: 2000},
	}
	require.NoError(t, pl.Append(events))

	assert.Equal(t, uint64(1), events[0].SeqNum)
	assert.Equal(t, uint64(2), events[1].SeqNum)
	assert.Equal(t, uint64(2), pl.LastSeq())

	read, err := pl.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, events, read)

	read, err = pl.ReadFrom(1, 10)
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, int64(11), read[0].EventID)
}

func TestPublishLogReadWithLimit(t *testing.T) {
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	defer pl.Close()

	require.NoError(t, pl.Append(exportEvents(10, "local", "users")))

	read, err := pl.ReadFrom(0, 5)
	require.NoError(t, err)
	require.Len(t, read, 5)
	assert.Equal(t, uint64(5), read[4].SeqNum)

	read, err = pl.ReadFrom(5, 0)
	require.NoError(t, err)
	assert.Len(t, read, 5)
}

func TestPublishLogCursorOperations(t *testing.T) {
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	defer pl.Close()

	cursor, err := pl.GetCursor("kafka")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cursor)

	require.NoError(t, pl.AdvanceCursor("kafka", 7))
	cursor, err = pl.GetCursor("kafka")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cursor)
}

func TestPublishLogReopenKeepsState(t *testing.T) {
	dir := t.TempDir()

	pl, err := NewPublishLog(dir)
	require.NoError(t, err)
	require.NoError(t, pl.Append(exportEvents(3, "local", "users")))
	require.NoError(t, pl.AdvanceCursor("nats", 2))
	require.NoError(t, pl.Close())

	pl, err = NewPublishLog(dir)
	require.NoError(t, err)
	defer pl.Close()

	assert.Equal(t, uint64(3), pl.LastSeq())
	cursor, err := pl.GetCursor("nats")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cursor)

	more := exportEvents(1, "local", "users")
	require.NoError(t, pl.Append(more))
	assert.Equal(t, uint64(4), more[0].SeqNum)
}

func TestPublishLogEmptyAppend(t *testing.T) {
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	defer pl.Close()

	require.NoError(t, pl.Append(nil))
	assert.Equal(t, uint64(0), pl.LastSeq())

	read, err := pl.ReadFrom(0, 10)
	require.NoError(t, err)
	assert.Empty(t, read)
}

func TestPublishLogCleanup(t *testing.T) {
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	defer pl.Close()

	require.NoError(t, pl.Append(exportEvents(20, "local", "users")))
	require.NoError(t, pl.AdvanceCursor("a", 10))
	require.NoError(t, pl.AdvanceCursor("b", 15))

	pl.cleanup()

	// the slowest sink is at 10, entries 1..9 are gone
	read, err := pl.ReadFrom(0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, read)
	assert.Equal(t, uint64(10), read[0].SeqNum)
	assert.Len(t, read, 11)
}

func TestPublishLogClosed(t *testing.T) {
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, pl.Close())

	assert.ErrorIs(t, pl.Append(exportEvents(1, "local", "users")), errLogClosed)
	_, err = pl.ReadFrom(0, 1)
	assert.ErrorIs(t, err, errLogClosed)
	assert.Error(t, pl.Close())
}

func TestPublishLogConcurrentAppend(t *testing.T) {
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	defer pl.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, pl.Append(exportEvents(1, "local", "users")))
			}
		}()
	}
	wg.Wait()

	read, err := pl.ReadFrom(0, 1000)
	require.NoError(t, err)
	require.Len(t, read, 80)
	for i, ev := range read {
		assert.Equal(t, uint64(i+1), ev.SeqNum)
	}
}

func TestPublishLogInvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewPublishLog(filepath.Join(file, "log"))
	assert.Error(t, err)
}

func TestPubLogKeyOrdering(t *testing.T) {
	assert.Equal(t, "/publog/0000000000000001", string(pubLogKey(1)))
	assert.Equal(t, "/publog/00000000000000ff", string(pubLogKey(255)))
	assert.Less(t, string(pubLogKey(9)), string(pubLogKey(10)))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/publog0"), prefixUpperBound([]byte("/publog/")))
	assert.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}

func BenchmarkPublishLogAppend(b *testing.B) {
	pl, err := NewPublishLog(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	defer pl.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := pl.Append(exportEvents(1, "local", "users")); err != nil {
			b.Fatal(err)
		}
	}
}
