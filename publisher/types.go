package publisher

// ExportEvent is one change event as stored in the publish log and handed to sinks
type ExportEvent struct {
	SeqNum       uint64 `msgpack:"seq" json:"seq"`         // Monotonic log sequence
	ConnectionID string `msgpack:"conn" json:"connection"` // Monitored connection
	EventID      int64  `msgpack:"id" json:"id"`           // Activity log row id (or synthetic id)
	Type         string `msgpack:"type" json:"type"`       // INSERT, UPDATE, DELETE, or a statement keyword
	Table        string `msgpack:"tbl" json:"table"`       // Table name
	RecordID     string `msgpack:"rec" json:"recordId"`    // Primary key value as text
	Details      string `msgpack:"details" json:"details"` // Human readable change summary
	Timestamp    int64  `msgpack:"ts" json:"timestampMs"`  // Event time (unix ms)
}

// Key returns the partition key for the event: connection, table and record id.
func (e ExportEvent) Key() string {
	return e.ConnectionID + ":" + e.Table + ":" + e.RecordID
}

// Sink represents a destination for exported events (Kafka, NATS, Redis)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts events to sink-specific payloads
type Transformer interface {
	// Transform converts an event to bytes for publishing
	Transform(event ExportEvent) ([]byte, error)
}

// Filter determines whether an event should be published
type Filter interface {
	// Match returns true if the event should be published
	Match(connection, table string) bool
}
