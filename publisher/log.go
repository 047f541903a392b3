package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/encoding"
)

// Key layout
const (
	prefixPubLog    = "/publog/"    // /publog/{seq:016x} -> msgpack(ExportEvent)
	prefixPubCursor = "/pubcursor/" // /pubcursor/{sinkName} -> uint64
	prefixPubMark   = "/pubmark/"   // /pubmark/{connection} -> last appended event id
	keyPubSeq       = "/pubseq"     // last assigned sequence
)

const (
	memTableSize                = 16 << 20
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

const (
	defaultReadLimit    = 100
	cleanupIntervalMask = 0x7F // every 128 sequences
)

var errLogClosed = errors.New("publish log is closed")

// PublishLog is a pebble-backed append-only log of export events with
// one persisted read cursor per sink. Entries below the slowest cursor are
// deleted periodically.
type PublishLog struct {
	db   *pebble.DB
	path string

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	// marks hold the last event id appended per connection
	marks   map[string]int64
	marksMu sync.RWMutex

	lastSeq  atomic.Uint64
	appendMu sync.Mutex

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// NewPublishLog creates or opens a publish log stored in dir
func NewPublishLog(dir string) (*PublishLog, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open publish log at %s: %w", dir, err)
	}

	pl := &PublishLog{
		db:      db,
		path:    dir,
		cursors: make(map[string]uint64),
		marks:   make(map[string]int64),
	}

	seq, err := pl.readUint64(keyPubSeq)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	pl.lastSeq.Store(seq)

	if err := pl.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}
	if err := pl.scanUint64s(prefixPubMark, func(conn string, v uint64) { pl.marks[conn] = int64(v) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load event marks: %w", err)
	}

	return pl, nil
}

// readUint64 returns the little-endian value stored at key, 0 when absent
func (pl *PublishLog) readUint64(key string) (uint64, error) {
	val, closer, err := pl.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid value length %d at %s", len(val), key)
	}
	return binary.LittleEndian.Uint64(val), nil
}

func (pl *PublishLog) loadCursors() error {
	if err := pl.scanUint64s(prefixPubCursor, func(sink string, v uint64) { pl.cursors[sink] = v }); err != nil {
		return err
	}
	if len(pl.cursors) > 0 {
		log.Info().Int("cursors", len(pl.cursors)).Msg("Loaded publish log cursors")
	}
	return nil
}

// scanUint64s calls fn for every 8-byte value stored under prefix
func (pl *PublishLog) scanUint64s(prefix string, fn func(name string, v uint64)) error {
	lower := []byte(prefix)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(lower):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted value for %s%s: invalid length %d", prefix, name, len(val))
		}
		fn(name, binary.LittleEndian.Uint64(val))
	}
	return iter.Error()
}

// Append assigns sequence numbers to events (in place) and writes them in one batch
func (pl *PublishLog) Append(events []ExportEvent) error {
	if len(events) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return errLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	seq := pl.lastSeq.Load()
	batch := pl.db.NewBatch()
	defer batch.Close()

	marks := make(map[string]int64)
	for i := range events {
		seq++
		events[i].SeqNum = seq
		marks[events[i].ConnectionID] = events[i].EventID

		val, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := batch.Set(pubLogKey(seq), val, nil); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}

	for conn, id := range marks {
		if err := batch.Set([]byte(prefixPubMark+conn), uint64Bytes(uint64(id)), nil); err != nil {
			return fmt.Errorf("failed to write event mark: %w", err)
		}
	}
	if err := batch.Set([]byte(keyPubSeq), uint64Bytes(seq), nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	pl.lastSeq.Store(seq)
	pl.marksMu.Lock()
	for conn, id := range marks {
		pl.marks[conn] = id
	}
	pl.marksMu.Unlock()
	return nil
}

// Mark returns the event id most recently appended for a connection, 0 if none.
// It follows the latest append rather than the maximum, so a reset activity
// log moves it back down.
func (pl *PublishLog) Mark(connection string) int64 {
	pl.marksMu.RLock()
	defer pl.marksMu.RUnlock()
	return pl.marks[connection]
}

// LastSeq returns the highest sequence number appended so far
func (pl *PublishLog) LastSeq() uint64 {
	return pl.lastSeq.Load()
}

// ReadFrom reads events with sequence greater than cursor, up to limit
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]ExportEvent, error) {
	if pl.closed.Load() {
		return nil, errLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := pubLogKey(cursor + 1)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixPubLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]ExportEvent, 0, limit)
	for iter.First(); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var ev ExportEvent
		if err := encoding.Unmarshal(val, &ev); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable export event")
			continue
		}
		events = append(events, ev)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return events, nil
}

// GetCursor returns the last sequence processed by sinkName, 0 for a new sink
func (pl *PublishLog) GetCursor(sinkName string) (uint64, error) {
	if pl.closed.Load() {
		return 0, errLogClosed
	}

	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()
	return pl.cursors[sinkName], nil
}

// AdvanceCursor persists the cursor for a sink and periodically triggers cleanup
func (pl *PublishLog) AdvanceCursor(sinkName string, seq uint64) error {
	if pl.closed.Load() {
		return errLogClosed
	}

	pl.cursorsMu.Lock()
	pl.cursors[sinkName] = seq
	pl.cursorsMu.Unlock()

	if err := pl.db.Set([]byte(prefixPubCursor+sinkName), uint64Bytes(seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	if seq&cleanupIntervalMask == 0 && pl.cleanupRunning.CompareAndSwap(false, true) {
		pl.cleanupWg.Add(1)
		go func() {
			defer pl.cleanupWg.Done()
			defer pl.cleanupRunning.Store(false)
			pl.cleanup()
		}()
	}

	return nil
}

// cleanup deletes entries below the minimum cursor across all sinks
func (pl *PublishLog) cleanup() {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()

	if pl.closed.Load() {
		return
	}

	pl.cursorsMu.RLock()
	if len(pl.cursors) == 0 {
		pl.cursorsMu.RUnlock()
		return
	}
	minCursor := ^uint64(0)
	for _, c := range pl.cursors {
		minCursor = min(minCursor, c)
	}
	pl.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}

	if err := pl.db.DeleteRange([]byte(prefixPubLog), pubLogKey(minCursor), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to clean up publish log")
		return
	}
	log.Debug().Uint64("min_cursor", minCursor).Msg("Cleaned up publish log entries")
}

// Close waits for in-flight cleanup and closes the store
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("publish log already closed")
	}
	pl.cleanupWg.Wait()
	return pl.db.Close()
}

func pubLogKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%016x", prefixPubLog, seq)
}

func uint64Bytes(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
