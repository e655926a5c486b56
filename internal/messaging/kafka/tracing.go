package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vladislavdragonenkov/rms/internal/messaging/kafka"

// producerCarrier пишет trace-заголовки в исходящее сообщение.
type producerCarrier struct {
	headers *[]sarama.RecordHeader
}

func (c producerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c producerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if string(h.Key) == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, header(key, value))
}

func (c producerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

// consumerCarrier читает trace-заголовки входящего сообщения.
type consumerCarrier []*sarama.RecordHeader

func (c consumerCarrier) Get(key string) string {
	value, _ := headerValue(c, key)
	return value
}

func (consumerCarrier) Set(string, string) {}

func (c consumerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		if h != nil {
			keys = append(keys, string(h.Key))
		}
	}
	return keys
}

var (
	_ propagation.TextMapCarrier = producerCarrier{}
	_ propagation.TextMapCarrier = consumerCarrier(nil)
)

func injectTrace(ctx context.Context, headers []sarama.RecordHeader) []sarama.RecordHeader {
	otel.GetTextMapPropagator().Inject(ctx, producerCarrier{headers: &headers})
	return headers
}

func extractTrace(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, consumerCarrier(msg.Headers))
}

// startConsumeSpan продолжает trace отправителя, если он пришёл в заголовках.
func startConsumeSpan(ctx context.Context, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	ctx = extractTrace(ctx, msg)
	return otel.Tracer(tracerName).Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", int(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}

func endConsumeSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("rms.consume.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}
