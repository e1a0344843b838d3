package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-farm-escrow/internal/kafka"
	"github.com/ariefcatur/go-farm-escrow/internal/listings"
	"github.com/ariefcatur/go-farm-escrow/internal/metrics"
	"github.com/ariefcatur/go-farm-escrow/internal/redisx"
)

// Report is one settled sale as seen by downstream accounting.
type Report struct {
	ListingID       uint64
	EventID         string
	SellerAddress   string
	ConsumerAddress string
	Amount          uint64
	SettledAt       time.Time
}

// Recorder persists reports. Recording the same listing twice must be harmless.
type Recorder interface {
	RecordSettlement(ctx context.Context, r Report) error
}

type Service struct {
	Recorder    Recorder
	Redis       *redis.Client // optional; nil disables dedup
	ServiceName string
	Log         *zap.Logger
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// HandlePaymentReleased is installed as the consumer handler for listing.payment.released.
func (s *Service) HandlePaymentReleased(ctx context.Context, m kafkago.Message) error {
	var env listings.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// poison message: commit and move on
		metrics.IncSettlement("ignored")
		s.logger().Warn("settlement.bad_envelope", zap.Error(err), zap.Int64("offset", m.Offset))
		return nil
	}
	if env.EventType != listings.EventPaymentReleased {
		metrics.IncSettlement("ignored")
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if s.Redis != nil {
		first, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			// dedup is best effort; the recorder is idempotent anyway
			metrics.IncError("settlement", "redis_dedup")
			s.logger().Warn("settlement.dedup_unavailable", zap.Error(err))
		} else if !first {
			metrics.IncSettlement("duplicate")
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[listings.PaymentReleasedPayload](env.Payload)
	if err != nil {
		metrics.IncSettlement("ignored")
		s.logger().Warn("settlement.bad_payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	rep := Report{
		ListingID:       p.ListingID,
		EventID:         env.EventID,
		SellerAddress:   p.SellerAddress,
		ConsumerAddress: p.ConsumerAddress,
		Amount:          p.Amount,
		SettledAt:       p.SettledAt,
	}
	if err := s.Recorder.RecordSettlement(ctx, rep); err != nil {
		if s.Redis != nil {
			// the consumer retries this message; it must not look like a duplicate
			_ = s.Redis.Del(ctx, dkey).Err()
		}
		metrics.IncSettlement("error")
		return fmt.Errorf("record settlement %d: %w", p.ListingID, err)
	}

	metrics.IncSettlement("recorded")
	s.logger().Info("settlement.recorded",
		zap.Uint64("listing_id", rep.ListingID),
		zap.Uint64("amount", rep.Amount),
		zap.String("seller", rep.SellerAddress),
		zap.String("trace_id", env.TraceID),
	)
	return nil
}
