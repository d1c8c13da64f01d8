package outbox

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/multistore-checkout/pkg/tracing"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Dispatcher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewDispatcher(log *slog.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, topic: topic}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	d.log.Debug("outbox dispatching", "event_id", event.EventID, "type", event.Type)
	if err := d.producer.WriteMessages(ctx, Message(d.topic, event)); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.EventID, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.EventID, "type", event.Type)
	return nil
}

// Message converts an outbox row into the Kafka record published for it.
// The record key is the aggregate id so events of one aggregate stay ordered.
func Message(topic string, event Event) kafka.Message {
	headers := make([]kafka.Header, 0, len(event.Headers)+3)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)},
		kafka.Header{Key: HeaderEventID, Value: []byte(event.EventID)},
	)
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: tracing.TraceparentHeader, Value: []byte(event.Traceparent)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
}
