package monitor

import (
	"sync"

	"github.com/tablewatch/tablewatch/telemetry"
)

const (
	DefaultDedupCapacity = 100
	DefaultDedupEvict    = 30
)

// SeenSet is an insertion-ordered set of statement hashes. Once it grows past
// capacity the oldest evict entries are dropped in one batch; lookups do not
// refresh an entry's age.
type SeenSet struct {
	mu       sync.Mutex
	capacity int
	evict    int
	order    []uint64
	members  map[uint64]struct{}
}

// NewSeenSet creates a SeenSet, using defaults for non-positive arguments
func NewSeenSet(capacity, evict int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	if evict <= 0 || evict > capacity {
		evict = min(DefaultDedupEvict, capacity)
	}
	return &SeenSet{
		capacity: capacity,
		evict:    evict,
		order:    make([]uint64, 0, capacity+1),
		members:  make(map[uint64]struct{}, capacity+1),
	}
}

// Contains reports whether h was added and not yet evicted
func (s *SeenSet) Contains(h uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[h]
	return ok
}

// Add inserts h and returns how many entries were evicted as a result
func (s *SeenSet) Add(h uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[h]; ok {
		return 0
	}
	s.members[h] = struct{}{}
	s.order = append(s.order, h)

	if len(s.order) <= s.capacity {
		return 0
	}

	for _, old := range s.order[:s.evict] {
		delete(s.members, old)
	}
	s.order = append(s.order[:0], s.order[s.evict:]...)
	telemetry.DedupEvictionsTotal.Add(float64(s.evict))
	return s.evict
}

// Len returns the number of tracked hashes
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
