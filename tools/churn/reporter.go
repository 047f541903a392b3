package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints throughput every second until ctx ends
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			fmt.Printf("[%5.0fs] writes/sec: %6d | total: %8d | no-op: %6d | errors: %4d | retries: %4d\n",
				elapsed.Seconds(),
				snap.Total()-last.Total(),
				snap.Total(),
				snap.Noops,
				snap.Errors,
				snap.Retries,
			)
			last = snap
		}
	}
}
