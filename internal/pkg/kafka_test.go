package pkg

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestNewKafkaProducer_WriterSettings(t *testing.T) {
	p := NewKafkaProducer(KafkaConfig{Brokers: []string{"k1:9092", "k2:9092"}, Topic: "community.membership"})

	assert.Equal(t, "community.membership", p.writer.Topic)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer, "same key must map to the same partition")
	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
	assert.False(t, p.writer.Async)
	assert.NoError(t, p.Close())
}

func TestKafkaProducer_CloseNil(t *testing.T) {
	var p *KafkaProducer
	assert.NoError(t, p.Close())
}
