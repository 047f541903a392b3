package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Worker executes writes and records committed changes in the ledger
type Worker struct {
	id         int
	db         *sql.DB
	table      string
	keyGen     *KeyGenerator
	opSelector *OpSelector
	stats      *Stats
	ledger     *Ledger
	retry      bool
	maxRetries int
	batchSize  int
	rng        *rand.Rand
}

func NewWorker(id int, db *sql.DB, cfg *Config, keyGen *KeyGenerator, opSelector *OpSelector, stats *Stats, ledger *Ledger) *Worker {
	return &Worker{
		id:         id,
		db:         db,
		table:      cfg.Table,
		keyGen:     keyGen,
		opSelector: opSelector,
		stats:      stats,
		ledger:     ledger,
		retry:      cfg.Retry,
		maxRetries: cfg.MaxRetries,
		batchSize:  cfg.BatchSize,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// Run pulls one token per operation from opsChan until it closes or ctx ends
func (w *Worker) Run(ctx context.Context, opsChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	batch := make([]Operation, 0, w.batchSize)
	flush := func() {
		if len(batch) > 0 {
			w.executeBatchWithRetry(ctx, batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-opsChan:
			if !ok {
				flush()
				return
			}

			batch = append(batch, w.generateOp(w.opSelector.Select()))
			if len(batch) >= w.batchSize {
				flush()
			}
		}
	}
}

func (w *Worker) generateOp(opType OpType) Operation {
	key := w.keyGen.RandomExistingKey(w.rng)
	if opType == OpInsert {
		key = w.keyGen.NextInsertKey()
	}
	return Operation{Type: opType, Key: key, Value: generateFieldValue(w.rng)}
}

// executeBatchWithRetry runs batch (a single op when batching is off) and
// records it only after it committed
func (w *Worker) executeBatchWithRetry(ctx context.Context, batch []Operation) {
	maxAttempts := 1
	if w.retry {
		maxAttempts = w.maxRetries + 1
	}

	start := time.Now()
	var affected []int64
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 10 * time.Millisecond
			jitter := time.Duration(w.rng.Int63n(int64(backoff / 2)))
			time.Sleep(backoff + jitter)
			w.stats.RecordRetry()
		}

		affected, err = w.executeBatch(ctx, batch)
		if err == nil || !IsRetryableError(err) {
			break
		}
	}

	if err != nil {
		for range batch {
			w.stats.RecordError()
		}
		if ctx.Err() == nil {
			fmt.Printf("worker %d: %v\n", w.id, err)
		}
		return
	}

	latency := time.Since(start) / time.Duration(len(batch))
	inserts := 0
	for i, op := range batch {
		if affected[i] == 0 {
			w.stats.RecordNoop()
			continue
		}
		w.ledger.Record(op.Type, op.Key)
		w.stats.RecordOp(op.Type, latency)
		if op.Type == OpInsert {
			inserts++
		}
	}
	if inserts > 0 {
		w.keyGen.UpdateMaxKey(int64(inserts))
	}
	if len(batch) > 1 {
		w.stats.RecordTx()
	}
}

// executeBatch returns rows affected per op. Batches of more than one op run
// in a transaction.
func (w *Worker) executeBatch(ctx context.Context, batch []Operation) ([]int64, error) {
	affected := make([]int64, len(batch))

	if len(batch) == 1 {
		n, err := ExecuteOp(ctx, w.db, w.table, batch[0])
		affected[0] = n
		return affected, err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i, op := range batch {
		n, err := ExecuteOp(ctx, tx, w.table, op)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		affected[i] = n
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return affected, nil
}
