package publisher

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/monitor"
)

// sinks created through the "memory" factory, by sink name
var (
	memorySinks   = map[string]*mockSink{}
	memorySinksMu sync.Mutex
)

func init() {
	// the real sinks live in publisher/sink, which imports this package
	RegisterSink("memory", func(config cfg.SinkConfiguration) (Sink, error) {
		s := &mockSink{}
		memorySinksMu.Lock()
		memorySinks[config.Name] = s
		memorySinksMu.Unlock()
		return s, nil
	})
	RegisterSink("broken", func(cfg.SinkConfiguration) (Sink, error) {
		return nil, fmt.Errorf("cannot connect")
	})
	RegisterTransformer("plain", func() Transformer { return mockTransformer{} })
}

func memorySink(name string) *mockSink {
	memorySinksMu.Lock()
	defer memorySinksMu.Unlock()
	return memorySinks[name]
}

func sinkConfig(name string) cfg.SinkConfiguration {
	return cfg.SinkConfiguration{
		Name:           name,
		Type:           "memory",
		Format:         "plain",
		TopicPrefix:    "tw",
		PollIntervalMS: 10,
		RetryInitialMS: 5,
		RetryMaxMS:     20,
	}
}

func TestNewRegistry(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.Error(t, err)

	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir(), SinkConfigs: []cfg.SinkConfiguration{sinkConfig(t.Name())}})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Len(t, r.workers, 1)
	assert.Error(t, r.Start(), "second start")
}

func TestNewRegistry_BadSinkClosesEarlierSinks(t *testing.T) {
	good := sinkConfig(t.Name())
	bad := sinkConfig("bad")
	bad.Type = "broken"

	_, err := NewRegistry(RegistryConfig{DataDir: t.TempDir(), SinkConfigs: []cfg.SinkConfiguration{good, bad}})
	require.ErrorContains(t, err, `failed to add sink "bad"`)
	assert.True(t, memorySink(good.Name).closed.Load())
}

func TestRegistryAddSink_Errors(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	unknownType := sinkConfig("a")
	unknownType.Type = "carrier-pigeon"
	assert.ErrorContains(t, r.AddSink(unknownType), "unknown sink type")

	unknownFormat := sinkConfig(t.Name() + "-format")
	unknownFormat.Format = "xml"
	assert.ErrorContains(t, r.AddSink(unknownFormat), "unknown format")
	assert.True(t, memorySink(unknownFormat.Name).closed.Load())

	badFilter := sinkConfig(t.Name() + "-filter")
	badFilter.FilterTables = []string{"[oops"}
	assert.ErrorContains(t, r.AddSink(badFilter), "failed to create filter")

	assert.Empty(t, r.workers)
}

func TestRegistryDeliver_PublishesToSinks(t *testing.T) {
	onlyUsers := sinkConfig(t.Name() + "-users")
	onlyUsers.FilterTables = []string{"users"}
	everything := sinkConfig(t.Name() + "-all")

	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir(), SinkConfigs: []cfg.SinkConfiguration{onlyUsers, everything}})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	now := time.Now()
	for _, ev := range []monitor.Event{
		{ID: 0, Type: monitor.TypeInfo, Details: "Monitoring started", ConnectionID: "local", Timestamp: now},
		{ID: 1, Type: monitor.TypeInsert, Table: "users", RecordID: "1", ConnectionID: "local", Timestamp: now},
		{ID: 2, Type: monitor.TypeDelete, Table: "orders", RecordID: "9", ConnectionID: "local", Timestamp: now},
	} {
		r.Deliver(ev)
	}

	all := memorySink(everything.Name)
	waitForEvents(t, all, 2, 2*time.Second)
	assert.Equal(t, "tw.local.users", all.getEvents()[0].topic)
	assert.Equal(t, "tw.local.orders", all.getEvents()[1].topic)
	assert.Equal(t, "local:orders:9", all.getEvents()[1].key)

	assert.Eventually(t, func() bool {
		for _, s := range r.Status() {
			if s.Lag != 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	users := memorySink(onlyUsers.Name)
	require.Equal(t, 1, users.eventCount())
	assert.Equal(t, "INSERT:users:1", string(users.getEvents()[0].value))

	status := r.Status()
	require.Len(t, status, 2)
	assert.Equal(t, uint64(2), status[0].Cursor)
	assert.Equal(t, uint64(2), status[1].Cursor)
}

func TestRegistryDeliver_NoSinksNoLog(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Deliver(monitor.Event{ID: 1, Type: monitor.TypeInsert, Table: "users", ConnectionID: "local"})
	assert.Equal(t, uint64(0), r.log.LastSeq())
}

func TestRegistryLifecycle(t *testing.T) {
	name := t.Name()
	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir(), SinkConfigs: []cfg.SinkConfiguration{sinkConfig(name)}})
	require.NoError(t, err)

	// not running yet: appends are refused and deliveries ignored
	assert.Error(t, r.Append(exportEvents(1, "local", "users")))
	r.Deliver(monitor.Event{ID: 1, Type: monitor.TypeInsert, Table: "users", ConnectionID: "local"})
	assert.Equal(t, uint64(0), r.log.LastSeq())

	require.NoError(t, r.Start())
	require.NoError(t, r.Append(exportEvents(3, "local", "users")))
	waitForEvents(t, memorySink(name), 3, 2*time.Second)

	r.Stop()
	assert.True(t, memorySink(name).closed.Load())
	assert.Error(t, r.Append(exportEvents(1, "local", "users")))

	// stop twice is a no-op
	r.Stop()
}

func TestRegistryAddSinkWhileRunning(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	late := sinkConfig(t.Name())
	require.NoError(t, r.AddSink(late))

	r.Deliver(monitor.Event{ID: 1, Type: monitor.TypeUpdate, Table: "users", RecordID: "3", ConnectionID: "local"})
	waitForEvents(t, memorySink(late.Name), 1, 2*time.Second)
}

func TestLookupSink(t *testing.T) {
	_, ok := LookupSink("memory")
	assert.True(t, ok)
	_, ok = LookupSink("nope")
	assert.False(t, ok)
}

var _ monitor.Subscriber = (*Registry)(nil)
