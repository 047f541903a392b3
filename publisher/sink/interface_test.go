package sink

import "github.com/tablewatch/tablewatch/publisher"

// Compile-time interface verification
var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*RedisSink)(nil)
	_ publisher.Sink = LogSink{}
)
