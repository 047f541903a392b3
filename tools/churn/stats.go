package main

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks workload counters and latencies
type Stats struct {
	insertOps atomic.Uint64
	updateOps atomic.Uint64
	deleteOps atomic.Uint64

	// writes that matched no row and produce no activity
	noops atomic.Uint64

	errors  atomic.Uint64
	retries atomic.Uint64
	txCount atomic.Uint64

	// microseconds
	mu        sync.Mutex
	latencies []int64
}

func NewStats() *Stats {
	return &Stats{latencies: make([]int64, 0, 10000)}
}

// RecordOp records a committed write that changed a row
func (s *Stats) RecordOp(op OpType, latency time.Duration) {
	switch op {
	case OpInsert:
		s.insertOps.Add(1)
	case OpUpdate:
		s.updateOps.Add(1)
	case OpDelete:
		s.deleteOps.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

func (s *Stats) RecordNoop()  { s.noops.Add(1) }
func (s *Stats) RecordError() { s.errors.Add(1) }
func (s *Stats) RecordRetry() { s.retries.Add(1) }
func (s *Stats) RecordTx()    { s.txCount.Add(1) }

// TotalOps returns committed row-changing writes
func (s *Stats) TotalOps() uint64 {
	return s.insertOps.Load() + s.updateOps.Load() + s.deleteOps.Load()
}

// GetLatencyPercentiles returns p50, p90, p99 in microseconds
func (s *Stats) GetLatencyPercentiles() (p50, p90, p99 int64) {
	s.mu.Lock()
	sorted := slices.Clone(s.latencies)
	s.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	slices.Sort(sorted)

	n := len(sorted)
	return sorted[n*50/100], sorted[n*90/100], sorted[n*99/100]
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	InsertOps uint64
	UpdateOps uint64
	DeleteOps uint64
	Noops     uint64
	Errors    uint64
	Retries   uint64
}

func (s Snapshot) Total() uint64 {
	return s.InsertOps + s.UpdateOps + s.DeleteOps
}

func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		InsertOps: s.insertOps.Load(),
		UpdateOps: s.updateOps.Load(),
		DeleteOps: s.deleteOps.Load(),
		Noops:     s.noops.Load(),
		Errors:    s.errors.Load(),
		Retries:   s.retries.Load(),
	}
}

// PrintFinal prints the run summary
func (s *Stats) PrintFinal(elapsed time.Duration) {
	snap := s.GetSnapshot()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f writes/sec\n", float64(snap.Total())/elapsed.Seconds())
	if tx := s.txCount.Load(); tx > 0 {
		fmt.Printf("Transactions:  %d\n", tx)
	}
	fmt.Println()

	fmt.Println("Writes:")
	fmt.Printf("  INSERT: %d\n", snap.InsertOps)
	fmt.Printf("  UPDATE: %d\n", snap.UpdateOps)
	fmt.Printf("  DELETE: %d\n", snap.DeleteOps)
	fmt.Printf("  TOTAL:  %d\n", snap.Total())
	fmt.Printf("  No-op:  %d\n", snap.Noops)
	fmt.Println()

	if snap.Errors > 0 || snap.Retries > 0 {
		fmt.Printf("Errors:  %d\n", snap.Errors)
		fmt.Printf("Retries: %d\n", snap.Retries)
		fmt.Println()
	}

	p50, p90, p99 := s.GetLatencyPercentiles()
	fmt.Println("Latency (microseconds):")
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P90:   %d\n", p90)
	fmt.Printf("  P99:   %d\n", p99)
}
