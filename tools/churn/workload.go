package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/go-sql-driver/mysql"
)

type OpType int

const (
	OpInsert OpType = iota
	OpUpdate
	OpDelete
)

// String matches the action names written by the activity triggers
func (o OpType) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// KeyGenerator hands out sequential keys for inserts and random keys in the
// inserted range for updates and deletes. Callers provide their own rng.
type KeyGenerator struct {
	prefix  string
	counter uint64
	maxKey  uint64
}

func NewKeyGenerator(prefix string, existingRows int64) *KeyGenerator {
	return &KeyGenerator{
		prefix:  prefix,
		counter: uint64(existingRows),
		maxKey:  uint64(existingRows),
	}
}

// NextInsertKey returns a key never returned before
func (g *KeyGenerator) NextInsertKey() string {
	n := atomic.AddUint64(&g.counter, 1)
	return g.format(n)
}

// RandomExistingKey returns a key that was inserted at some point; it may have
// been deleted since. Falls back to a fresh key when nothing exists yet.
func (g *KeyGenerator) RandomExistingKey(rng *rand.Rand) string {
	max := atomic.LoadUint64(&g.maxKey)
	if max == 0 {
		return g.NextInsertKey()
	}
	return g.format(uint64(rng.Int63n(int64(max))) + 1)
}

// UpdateMaxKey widens the existing range after committed inserts
func (g *KeyGenerator) UpdateMaxKey(delta int64) {
	atomic.AddUint64(&g.maxKey, uint64(delta))
}

func (g *KeyGenerator) format(n uint64) string {
	return fmt.Sprintf("%s_%012d", g.prefix, n)
}

// Operation represents a single write
type Operation struct {
	Type  OpType
	Key   string
	Value string
}

// Executor is implemented by *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OpSelector picks operation types according to a distribution
type OpSelector struct {
	thresholds [3]int
	rng        *rand.Rand
}

func NewOpSelector(dist WorkloadDistribution, seed int64) *OpSelector {
	s := &OpSelector{rng: rand.New(rand.NewSource(seed))}
	s.thresholds[0] = dist.Insert
	s.thresholds[1] = s.thresholds[0] + dist.Update
	s.thresholds[2] = s.thresholds[1] + dist.Delete
	return s
}

func (s *OpSelector) Select() OpType {
	r := s.rng.Intn(100)
	switch {
	case r < s.thresholds[0]:
		return OpInsert
	case r < s.thresholds[1]:
		return OpUpdate
	default:
		return OpDelete
	}
}

func generateFieldValue(rng *rand.Rand) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 48
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[rng.Intn(len(chars))]
	}
	return string(b)
}

// ExecuteOp runs op and returns the number of rows it changed. Updates always
// bump the revision so a matched row is a changed row.
func ExecuteOp(ctx context.Context, exec Executor, table string, op Operation) (int64, error) {
	var res sql.Result
	var err error
	switch op.Type {
	case OpInsert:
		res, err = exec.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO `%s` (id, payload) VALUES (?, ?)", table),
			op.Key, op.Value)
	case OpUpdate:
		res, err = exec.ExecContext(ctx,
			fmt.Sprintf("UPDATE `%s` SET payload = ?, revision = revision + 1 WHERE id = ?", table),
			op.Value, op.Key)
	case OpDelete:
		res, err = exec.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM `%s` WHERE id = ?", table),
			op.Key)
	default:
		return 0, fmt.Errorf("unknown operation type: %v", op.Type)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MySQL server error numbers worth retrying
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// IsRetryableError reports deadlocks and lock wait timeouts
func IsRetryableError(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errDeadlock || me.Number == errLockWaitTimeout
}
