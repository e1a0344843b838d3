package kafka

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-farm-escrow/internal/listings"
)

// Publisher is satisfied by *Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header) bool
}

// Emitter wraps ledger events in an Envelope (v1) and hands them to the producer.
type Emitter struct {
	Producer Publisher
	Service  string
	// TraceID extracts a request id from the call context, optional.
	TraceID func(ctx context.Context) string
	Log     *zap.Logger
	Now     func() time.Time
}

func (e *Emitter) Emit(ctx context.Context, ev listings.Event) {
	topic := listings.TopicFor(ev.Type)
	if topic == "" {
		e.logger().Warn("kafka.unknown_event_type", zap.String("event_type", ev.Type))
		return
	}
	payload, err := MarshalPayload(ev.Payload)
	if err != nil {
		e.logger().Error("kafka.marshal_failed", zap.String("event_type", ev.Type), zap.Error(err))
		return
	}
	env := listings.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  1,
		OccurredAt:    e.now(),
		Producer:      e.Service,
		CorrelationID: string(listings.PartitionKey(ev.ListingID)),
		Payload:       payload,
	}
	if e.TraceID != nil {
		env.TraceID = e.TraceID(ctx)
	}
	e.Producer.Publish(topic, listings.PartitionKey(ev.ListingID), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(ev.Type)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Emitter) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}
