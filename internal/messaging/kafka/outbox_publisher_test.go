package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

func recordHeaders(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}

		assert.Equal(t, TopicOrderEvents, msg.Topic)
		assert.Equal(t, "order-123", string(key))
		assert.Equal(t, "outbox-1", env.ID)
		assert.Equal(t, domain.OutboxEventOrderPlaced, env.EventType)
		assert.JSONEq(t, `{"status":"received"}`, string(env.Payload))
		assert.True(t, env.PublishedAt.Equal(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)), "published_at %s", env.PublishedAt)

		headers := recordHeaders(msg)
		assert.Equal(t, domain.OutboxEventOrderPlaced, headers[HeaderEventType])
		assert.Equal(t, "outbox-1", headers[HeaderMessageID])
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer, WithProducerLogger(quietProducerLogger())), "")
	publisher.now = func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600)) }
	require.Equal(t, TopicOrderEvents, publisher.Topic())

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.OutboxEventOrderPlaced,
		Payload:       []byte(`{"status":"received"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_KeyFallsBackToMessageID(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		if string(key) != "outbox-9" {
			return errors.New("key must fall back to message id")
		}
		var env Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if string(env.Payload) != "null" {
			return errors.New("empty payload must be encoded as null")
		}
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer, WithProducerLogger(quietProducerLogger())), "custom.topic")
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-9", EventType: domain.OutboxEventStockRestocked}))
	require.NoError(t, mockProducer.Close())
}

// Не параллельный: меняет глобальный propagator.
func TestOutboxPublisher_InjectsTraceContext(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var got map[string]string
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		got = recordHeaders(msg)
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer, WithProducerLogger(quietProducerLogger())), TopicOrderEvents)
	require.NoError(t, publisher.Publish(ctx, domain.OutboxMessage{ID: "outbox-4", AggregateID: "order-4", EventType: domain.OutboxEventOrderCancelled}))
	require.NoError(t, mockProducer.Close())

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", got["traceparent"])
	assert.Equal(t, "outbox-4", got[HeaderMessageID])

	extracted := extractTrace(context.Background(), &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{
		{Key: []byte("traceparent"), Value: []byte(got["traceparent"])},
	}})
	sc := trace.SpanContextFromContext(extracted)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, traceID, sc.TraceID())
}

func TestProducerCarrier_SetReplacesExisting(t *testing.T) {
	t.Parallel()

	headers := []sarama.RecordHeader{header("traceparent", "old"), header(HeaderEventType, "OrderPlaced")}
	carrier := producerCarrier{headers: &headers}
	carrier.Set("traceparent", "new")
	carrier.Set("tracestate", "k=v")

	assert.Equal(t, "new", carrier.Get("traceparent"))
	assert.Equal(t, "", carrier.Get("baggage"))
	assert.Equal(t, []string{"traceparent", HeaderEventType, "tracestate"}, carrier.Keys())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(mockProducer, WithProducerLogger(quietProducerLogger())), "custom.topic")
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: "order",
		AggregateID:   "order-234",
		EventType:     domain.OutboxEventOrderStatusChanged,
		Payload:       []byte(`{"to":"accepted"}`),
	})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	require.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
}
