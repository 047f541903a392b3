// Package publisher exports monitoring events to external brokers.
//
// The Registry is a monitor.Subscriber. Every change event delivered by a
// monitoring session is appended to a pebble-backed PublishLog with a
// monotonic sequence number. One Worker per configured sink reads the log from
// its own persisted cursor, filters by connection and table globs, encodes the
// event with the sink's Transformer and publishes it, retrying with
// exponential backoff. Topics are {topic_prefix}.{connection}.{table}.
//
// Key layout:
//
//	/publog/{seq:016x}       -> msgpack(ExportEvent)
//	/pubcursor/{sinkName}    -> uint64
//	/pubseq                  -> uint64 (last assigned sequence)
//
// Delivery is at-least-once: a sink cursor only moves after a successful
// publish, so a crash between publish and cursor write redelivers the event.
// Entries below the slowest cursor are deleted every 128 sequences.
//
// Sinks (kafka, nats, redis, log) register from publisher/sink and formats
// (json, msgpack) from publisher/transformer; import both for side effects.
package publisher
