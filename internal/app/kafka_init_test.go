package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitKafkaProducer(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		wantErr bool
	}{
		{name: "kafka disabled", brokers: " "},
		{name: "unreachable brokers", brokers: "invalid-broker:9999, other-broker:9999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer, err := initKafkaProducer(tt.brokers, quietLogger())
			assert.Equal(t, tt.wantErr, err != nil, "err: %v", err)
			assert.Nil(t, producer)
		})
	}
}

func TestInitDeliveryConsumer_RequiresTopicAndDLQ(t *testing.T) {
	consumer, err := initDeliveryConsumer(DefaultConfig(), nil, nil, nil, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, consumer, "no delivery topic configured")

	cfg := DefaultConfig()
	cfg.KafkaBrokers = "localhost:9092"
	cfg.KafkaDeliveryTopic = "rms.stock.deliveries"
	consumer, err = initDeliveryConsumer(cfg, nil, nil, nil, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, consumer, "without a producer there is nowhere to dead-letter")
}

func TestCloseKafka_NilProducer(t *testing.T) {
	assert.NotPanics(t, func() { closeKafka(nil, quietLogger()) })
}
