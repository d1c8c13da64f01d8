package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/tracing"
)

// EventHandler reacts to payment gateway events.
type EventHandler interface {
	HandlePaymentEvent(ctx context.Context, e domain.Event) error
}

// Deduper is satisfied by *dedup.Store.
type Deduper interface {
	Key(topic string, partition int, offset int64) string
	EventKey(eventID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const handleAttempts = 3

type Consumer struct {
	log     *slog.Logger
	reader  Reader
	handler EventHandler
	seen    Deduper
	tracer  trace.Tracer
	counter *prometheus.CounterVec
	backoff time.Duration
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

// NewConsumer wires a payment events consumer. counter may be nil.
func NewConsumer(log *slog.Logger, reader Reader, handler EventHandler, seen Deduper, counter *prometheus.CounterVec) *Consumer {
	return &Consumer{
		log:     log,
		reader:  reader,
		handler: handler,
		seen:    seen,
		tracer:  otel.Tracer("payment-events-consumer"),
		counter: counter,
		backoff: 200 * time.Millisecond,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.Handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
	}
}

// Handle processes one message. It never fails: undecodable messages are
// dropped and handler errors are retried a few times, then logged.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) {
	eventType := tracing.HeaderValue(msg.Headers, outbox.HeaderEventType)

	key := c.seen.Key(msg.Topic, msg.Partition, msg.Offset)
	if id := tracing.HeaderValue(msg.Headers, outbox.HeaderEventID); id != "" {
		key = c.seen.EventKey(id)
	}
	dup, err := c.seen.Seen(ctx, key)
	if err != nil {
		c.log.Warn("dedup check failed, handling anyway", "key", key, "err", err)
	}
	if dup {
		c.log.Info("duplicate message skipped", "key", key)
		c.count(eventType, "duplicate")
		return
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentEvent", trace.WithAttributes(
		attribute.String("messaging.event_type", eventType),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	))
	defer span.End()

	event, err := domain.DecodeEvent(eventType, msg.Value)
	if err != nil {
		c.log.Error("invalid payment event dropped", "type", eventType, "offset", msg.Offset, "err", err)
		span.SetStatus(codes.Error, err.Error())
		c.count(eventType, "invalid")
		return
	}

	for attempt := 1; ; attempt++ {
		err = c.handler.HandlePaymentEvent(msgCtx, event)
		if err == nil {
			c.log.Info("payment event handled", "type", eventType, "order_id", event.Order())
			c.count(eventType, "ok")
			return
		}
		if attempt == handleAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	c.log.Error("payment event handling failed", "type", eventType, "order_id", event.Order(), "err", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if fErr := c.seen.Forget(context.WithoutCancel(ctx), key); fErr != nil {
		c.log.Warn("dedup forget failed", "key", key, "err", fErr)
	}
	c.count(eventType, "error")
}

func (c *Consumer) count(eventType, result string) {
	if c.counter != nil {
		c.counter.WithLabelValues(eventType, result).Inc()
	}
}
