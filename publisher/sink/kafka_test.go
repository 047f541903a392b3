package sink

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/publisher"
)

func TestKafkaSinkAppliesDefaults(t *testing.T) {
	s, err := NewKafkaSink(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, RequiredAcks: kafka.RequireOne})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, DefaultKafkaBatchSize, s.writer.BatchSize)
	assert.EqualValues(t, DefaultKafkaBatchBytes, s.writer.BatchBytes)
	assert.Equal(t, kafka.RequireOne, s.writer.RequiredAcks)
	assert.Equal(t, DefaultKafkaWriteTimeout, s.timeout)
	assert.False(t, s.writer.Async)
	assert.IsType(t, &kafka.Hash{}, s.writer.Balancer)
}

func TestKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	assert.ErrorContains(t, err, "broker")
}

func TestKafkaFactoryUsesSinkBatchSize(t *testing.T) {
	factory, ok := publisher.LookupSink("kafka")
	require.True(t, ok)

	s, err := factory(cfg.SinkConfiguration{Name: "audit", Type: "kafka", Brokers: []string{"127.0.0.1:9092"}, BatchSize: 25})
	require.NoError(t, err)
	defer s.Close()

	ks, ok := s.(*KafkaSink)
	require.True(t, ok)
	assert.Equal(t, 25, ks.writer.BatchSize)
	assert.Equal(t, kafka.RequireAll, ks.writer.RequiredAcks)
}
