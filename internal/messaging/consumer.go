package messaging

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler func(ctx context.Context, payload []byte) error

type Consumer struct {
	reader    messageReader
	topic     string
	groupID   string
	eventType string
	// failures is set when handler errors are logged and committed past
	// instead of stopping the consumer.
	failures *slog.Logger
}

type consumerOptions struct {
	reader    kafka.ReaderConfig
	eventType string
	failures  *slog.Logger
}

type ConsumerOption func(*consumerOptions)

func WithStartOffset(offset int64) ConsumerOption {
	return func(o *consumerOptions) {
		o.reader.StartOffset = offset
	}
}

// WithEventType commits messages of any other event type without handling them.
func WithEventType(eventType string) ConsumerOption {
	return func(o *consumerOptions) {
		o.eventType = eventType
	}
}

// WithSkipFailed logs handler errors and moves on to the next message.
func WithSkipFailed(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.failures = logger
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	o := consumerOptions{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return newConsumer(kafka.NewReader(o.reader), o)
}

func newConsumer(reader messageReader, o consumerOptions) *Consumer {
	return &Consumer{
		reader:    reader,
		topic:     o.reader.Topic,
		groupID:   o.reader.GroupID,
		eventType: o.eventType,
		failures:  o.failures,
	}
}

// Consume fetches, handles and commits messages until ctx is done or a
// handler fails. A message is committed only after its handler returned.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			if c.failures == nil {
				return err
			}
			c.failures.Error("message handling failed, skipping",
				"error", err, "topic", c.topic, "partition", msg.Partition, "offset", msg.Offset)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler Handler) error {
	if c.eventType != "" && header(&msg, EventTypeHeader) != c.eventType {
		return nil
	}

	parentCtx := otel.GetTextMapPropagator().Extract(ctx, NewMessageCarrier(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if err := handler(spanCtx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
