package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
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

// Handler processes one message. Returning an error leaves the message
// uncommitted.
type Handler func(ctx context.Context, key, payload []byte) error

type Consumer struct {
	reader   messageReader
	topic    string
	groupID  string
	attempts uint
	backoff  func() backoff.BackOff
}

type consumerConfig struct {
	reader   kafka.ReaderConfig
	attempts uint
	interval time.Duration
}

type ConsumerOption func(*consumerConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

// WithHandlerRetry retries a failing handler up to attempts times with
// exponential backoff starting at interval before Consume gives up.
func WithHandlerRetry(attempts uint, interval time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.attempts = attempts
		cfg.interval = interval
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
		attempts: 1,
		interval: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return newConsumer(kafka.NewReader(cfg.reader), topic, groupID, cfg.attempts, cfg.interval)
}

func newConsumer(reader messageReader, topic, groupID string, attempts uint, interval time.Duration) *Consumer {
	if attempts == 0 {
		attempts = 1
	}
	return &Consumer{
		reader:   reader,
		topic:    topic,
		groupID:  groupID,
		attempts: attempts,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = interval
			b.MaxInterval = 10 * interval
			return b
		},
	}
}

// Consume processes messages one at a time and commits each after its
// handler succeeds. It returns when ctx ends or a message keeps failing; the
// failed message stays uncommitted and is redelivered to the group.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			return fmt.Errorf("process %s offset %d: %w", c.topic, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler Handler) error {
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

	_, err := backoff.Retry(spanCtx, func() (struct{}, error) {
		return struct{}{}, handler(spanCtx, msg.Key, msg.Value)
	}, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(c.attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
