package kafka

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"strconv"
	"time"
)

const eventVersion = 1

// Emitter wraps payloads in the v1 envelope and routes them to their topic.
type Emitter struct {
	Producer *Producer
	Service  string
}

func (e *Emitter) Publish(ctx context.Context, eventType, correlationID string, payload any) error {
	topic := checkout.TopicFor(eventType)
	if topic == "" {
		return fmt.Errorf("no topic for event type %q", eventType)
	}
	body, err := Marshal(payload)
	if err != nil {
		return err
	}
	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		TraceID:       TraceID(ctx),
		CorrelationID: correlationID,
		Payload:       body,
	}
	value, err := Marshal(ev)
	if err != nil {
		return err
	}
	return e.Producer.Publish(ctx, topic, checkout.PartitionKey(correlationID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
}

type traceKey struct{}

// WithTraceID carries the request id into emitted envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
