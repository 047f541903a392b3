package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockSink struct {
	mu        sync.Mutex
	events    []mockPublishCall
	failCount atomic.Int32 // failures before succeeding
	closed    atomic.Bool
}

type mockPublishCall struct {
	topic string
	key   string
	value []byte
}

func (m *mockSink) Publish(topic, key string, value []byte) error {
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return fmt.Errorf("mock publish failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mockPublishCall{topic: topic, key: key, value: value})
	return nil
}

func (m *mockSink) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockSink) getEvents() []mockPublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublishCall(nil), m.events...)
}

func (m *mockSink) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockTransformer struct{}

func (mockTransformer) Transform(ev ExportEvent) ([]byte, error) {
	return []byte(fmt.Sprintf("%s:%s:%d", ev.Type, ev.Table, ev.SeqNum)), nil
}

type failingTransformer struct{}

func (failingTransformer) Transform(ExportEvent) ([]byte, error) {
	return nil, fmt.Errorf("cannot encode")
}

func TestNewWorker_Validation(t *testing.T) {
	pubLog := createTestPublishLog(t)
	filter, _ := NewGlobFilter(nil, nil)

	tests := []struct {
		name   string
		config WorkerConfig
	}{
		{"missing name", WorkerConfig{}},
		{"missing log", WorkerConfig{Name: "w"}},
		{"missing sink", WorkerConfig{Name: "w", Log: pubLog}},
		{"missing transformer", WorkerConfig{Name: "w", Log: pubLog, Sink: &mockSink{}}},
		{"missing filter", WorkerConfig{Name: "w", Log: pubLog, Sink: &mockSink{}, Transformer: mockTransformer{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWorker(tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}

	w, err := NewWorker(WorkerConfig{Name: "w", Log: pubLog, Sink: &mockSink{}, Transformer: mockTransformer{}, Filter: filter})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if w.config.BatchSize != DefaultBatchSize || w.config.MaxRetries != DefaultMaxRetries {
		t.Errorf("defaults not applied: %+v", w.config)
	}
}

func TestWorker_NormalProcessing(t *testing.T) {
	pubLog := createTestPublishLog(t)
	if err := pubLog.Append(exportEvents(2, "local", "users")); err != nil {
		t.Fatalf("append: %v", err)
	}

	sink := &mockSink{}
	worker := startWorker(t, pubLog, sink, nil, nil)
	defer worker.Stop()

	waitForEvents(t, sink, 2, 2*time.Second)

	published := sink.getEvents()
	if published[0].topic != "tw.local.users" {
		t.Errorf("expected topic tw.local.users, got %s", published[0].topic)
	}
	if published[0].key != "local:users:1" {
		t.Errorf("expected key local:users:1, got %s", published[0].key)
	}
	if string(published[1].value) != "INSERT:users:2" {
		t.Errorf("unexpected payload %s", published[1].value)
	}

	waitForCursor(t, pubLog, "test-worker", 2)
}

func TestWorker_FilterSkipping(t *testing.T) {
	pubLog := createTestPublishLog(t)
	events := append(exportEvents(1, "local", "users"), exportEvents(1, "local", "secrets")...)
	events = append(events, exportEvents(1, "other", "users")...)
	if err := pubLog.Append(events); err != nil {
		t.Fatalf("append: %v", err)
	}

	filter, err := NewGlobFilter([]string{"users"}, []string{"local"})
	if err != nil {
		t.Fatal(err)
	}
	sink := &mockSink{}
	worker := startWorker(t, pubLog, sink, filter, nil)
	defer worker.Stop()

	// filtered events still advance the cursor
	waitForCursor(t, pubLog, "test-worker", 3)

	if n := sink.eventCount(); n != 1 {
		t.Fatalf("expected 1 published event, got %d", n)
	}
	if got := sink.getEvents()[0].topic; got != "tw.local.users" {
		t.Errorf("unexpected topic %s", got)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	pubLog := createTestPublishLog(t)
	if err := pubLog.Append(exportEvents(1, "local", "users")); err != nil {
		t.Fatalf("append: %v", err)
	}

	sink := &mockSink{}
	sink.failCount.Store(3)
	worker := startWorker(t, pubLog, sink, nil, nil)
	defer worker.Stop()

	waitForEvents(t, sink, 1, 2*time.Second)
	if sink.failCount.Load() != 0 {
		t.Errorf("expected all failures consumed, %d left", sink.failCount.Load())
	}
	waitForCursor(t, pubLog, "test-worker", 1)
}

func TestWorker_GivesUpAfterMaxRetries(t *testing.T) {
	pubLog := createTestPublishLog(t)
	if err := pubLog.Append(exportEvents(1, "local", "users")); err != nil {
		t.Fatalf("append: %v", err)
	}

	sink := &mockSink{}
	sink.failCount.Store(1000)
	worker := startWorker(t, pubLog, sink, nil, func(c *WorkerConfig) { c.MaxRetries = 3 })

	select {
	case <-worker.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not give up")
	}
	if got := 1000 - sink.failCount.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if c, _ := pubLog.GetCursor("test-worker"); c != 0 {
		t.Errorf("cursor advanced past an unpublished event: %d", c)
	}
	worker.Stop()
}

func TestWorker_TransformFailureStops(t *testing.T) {
	pubLog := createTestPublishLog(t)
	if err := pubLog.Append(exportEvents(1, "local", "users")); err != nil {
		t.Fatalf("append: %v", err)
	}

	sink := &mockSink{}
	worker := startWorker(t, pubLog, sink, nil, func(c *WorkerConfig) { c.Transformer = failingTransformer{} })

	select {
	case <-worker.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept running after a transform error")
	}
	if sink.eventCount() != 0 {
		t.Error("nothing should be published")
	}
	worker.Stop()
}

func TestWorker_GracefulShutdown(t *testing.T) {
	pubLog := createTestPublishLog(t)
	sink := &mockSink{}
	worker := startWorker(t, pubLog, sink, nil, nil)

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}

	// stop is idempotent and the worker can be restarted
	worker.Stop()
	worker.Start()
	if err := pubLog.Append(exportEvents(1, "local", "users")); err != nil {
		t.Fatalf("append: %v", err)
	}
	waitForEvents(t, sink, 1, 2*time.Second)
	worker.Stop()
}

func TestWorker_ResumesFromPersistedCursor(t *testing.T) {
	pubLog := createTestPublishLog(t)
	if err := pubLog.Append(exportEvents(5, "local", "users")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := pubLog.AdvanceCursor("test-worker", 3); err != nil {
		t.Fatal(err)
	}

	sink := &mockSink{}
	worker := startWorker(t, pubLog, sink, nil, nil)
	defer worker.Stop()

	waitForCursor(t, pubLog, "test-worker", 5)
	if n := sink.eventCount(); n != 2 {
		t.Errorf("expected 2 events after cursor 3, got %d", n)
	}
}

func TestWorker_BuildTopic(t *testing.T) {
	w := &Worker{config: WorkerConfig{}}
	if got := w.buildTopic("local", "users"); got != "local.users" {
		t.Errorf("unexpected topic %s", got)
	}
	w.config.TopicPrefix = "tw"
	if got := w.buildTopic("local", "users"); got != "tw.local.users" {
		t.Errorf("unexpected topic %s", got)
	}
}

// Helper functions

func createTestPublishLog(t *testing.T) *PublishLog {
	t.Helper()
	pubLog, err := NewPublishLog(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create publish log: %v", err)
	}
	t.Cleanup(func() { pubLog.Close() })
	return pubLog
}

func startWorker(t *testing.T, pubLog *PublishLog, sink Sink, filter Filter, tweak func(*WorkerConfig)) *Worker {
	t.Helper()
	if filter == nil {
		filter, _ = NewGlobFilter(nil, nil)
	}
	config := WorkerConfig{
		Name:            "test-worker",
		Log:             pubLog,
		Sink:            sink,
		Transformer:     mockTransformer{},
		Filter:          filter,
		TopicPrefix:     "tw",
		BatchSize:       10,
		PollInterval:    10 * time.Millisecond,
		RetryInitial:    5 * time.Millisecond,
		RetryMax:        20 * time.Millisecond,
		RetryMultiplier: 2.0,
	}
	if tweak != nil {
		tweak(&config)
	}
	worker, err := NewWorker(config)
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	worker.Start()
	return worker
}

func waitForEvents(t *testing.T, sink *mockSink, expected int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sink.eventCount() >= expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d events, got %d", expected, sink.eventCount())
}

func waitForCursor(t *testing.T, pubLog *PublishLog, name string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, _ := pubLog.GetCursor(name); c == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	c, _ := pubLog.GetCursor(name)
	t.Fatalf("timeout waiting for cursor %d, at %d", want, c)
}
