package sink

import (
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/publisher"
)

func init() {
	publisher.RegisterSink("log", func(cfg.SinkConfiguration) (publisher.Sink, error) {
		return LogSink{}, nil
	})
}

// LogSink writes every message to the process log. Useful for trying out
// filters and formats without a broker.
type LogSink struct{}

// Publish logs the message at info level
func (LogSink) Publish(topic, key string, value []byte) error {
	log.Info().Str("topic", topic).Str("key", key).Bytes("value", value).Msg("Export event")
	return nil
}

// Close is a no-op
func (LogSink) Close() error { return nil }
