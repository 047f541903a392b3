package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// PollBuckets for a single log-table or processlist poll round trip
	PollBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// StartBuckets for session start (connect + trigger install across all tables)
	StartBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// PublishBuckets for sink publish latency
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Session Metrics
var (
	// SessionsActive tracks live monitoring sessions by mode (trigger, processlist)
	SessionsActive GaugeVec = noopGaugeVec{}

	// SessionStartsTotal counts start attempts by result (success, config_error, failed)
	SessionStartsTotal CounterVec = noopCounterVec{}

	// SessionStopsTotal counts stops by result (stopped, not_monitoring)
	SessionStopsTotal CounterVec = noopCounterVec{}

	// SessionStartSeconds measures full start latency
	SessionStartSeconds Histogram = NoopStat{}

	// SessionCursor tracks the last delivered activity id per connection
	SessionCursor GaugeVec = noopGaugeVec{}
)

// Polling Metrics
var (
	// PollTicksTotal counts poll ticks by mode and result (success, failed, stale)
	PollTicksTotal CounterVec = noopCounterVec{}

	// PollDurationSeconds measures poll query latency by mode
	PollDurationSeconds HistogramVec = noopHistogramVec{}

	// EventsDeliveredTotal counts events handed to subscribers by type
	EventsDeliveredTotal CounterVec = noopCounterVec{}

	// DedupEvictionsTotal counts statement hashes evicted from seen sets
	DedupEvictionsTotal Counter = NoopStat{}
)

// Trigger Metrics
var (
	// TriggersInstalledTotal counts trigger CREATE statements by result (success, failed)
	TriggersInstalledTotal CounterVec = noopCounterVec{}
)

// Export Metrics
var (
	// SinkPublishTotal counts publish attempts by sink and result (success, retry, failed)
	SinkPublishTotal CounterVec = noopCounterVec{}

	// SinkPublishSeconds measures publish latency by sink
	SinkPublishSeconds HistogramVec = noopHistogramVec{}

	// SubscriberDropsTotal counts events dropped for slow push subscribers
	SubscriberDropsTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Session Metrics
	SessionsActive = NewGaugeVec(
		"sessions_active",
		"Number of live monitoring sessions by mode",
		[]string{"mode"},
	)
	SessionStartsTotal = NewCounterVec(
		"session_starts_total",
		"Monitoring start attempts by result",
		[]string{"result"},
	)
	SessionStopsTotal = NewCounterVec(
		"session_stops_total",
		"Monitoring stop requests by result",
		[]string{"result"},
	)
	SessionStartSeconds = NewHistogramWithBuckets(
		"session_start_seconds",
		"Monitoring start duration in seconds",
		StartBuckets,
	)
	SessionCursor = NewGaugeVec(
		"session_cursor",
		"Last delivered activity id per connection",
		[]string{"connection"},
	)

	// Polling Metrics
	PollTicksTotal = NewCounterVec(
		"poll_ticks_total",
		"Poll ticks by mode and result",
		[]string{"mode", "result"},
	)
	PollDurationSeconds = NewHistogramVec(
		"poll_duration_seconds",
		"Poll query duration in seconds",
		[]string{"mode"},
		PollBuckets,
	)
	EventsDeliveredTotal = NewCounterVec(
		"events_delivered_total",
		"Events delivered to subscribers by type",
		[]string{"type"},
	)
	DedupEvictionsTotal = NewCounter(
		"dedup_evictions_total",
		"Statement hashes evicted from processlist seen sets",
	)

	// Trigger Metrics
	TriggersInstalledTotal = NewCounterVec(
		"triggers_installed_total",
		"Trigger create statements by result",
		[]string{"result"},
	)

	// Export Metrics
	SinkPublishTotal = NewCounterVec(
		"sink_publish_total",
		"Sink publish attempts by sink and result",
		[]string{"sink", "result"},
	)
	SinkPublishSeconds = NewHistogramVec(
		"sink_publish_seconds",
		"Sink publish duration in seconds",
		[]string{"sink"},
		PublishBuckets,
	)
	SubscriberDropsTotal = NewCounter(
		"subscriber_drops_total",
		"Events dropped because a push subscriber was not keeping up",
	)
}
