package listings

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventListingCreated  = "ListingCreated"
	EventBidPlaced       = "BidPlaced"
	EventBidAccepted     = "BidAccepted"
	EventListingSold     = "ListingSold"
	EventDisputeRaised   = "DisputeRaised"
	EventDisputeResolved = "DisputeResolved"
	EventPaymentReleased = "PaymentReleased"
	EventEscrowChanged   = "EscrowChanged"
	EventListingUpdated  = "ListingUpdated"
	EventFarmerRated     = "FarmerRated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g., "escrow-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // listing id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ListingCreatedPayload struct {
	ListingID     uint64 `json:"listing_id"`
	SellerAddress string `json:"seller_address"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Price         uint64 `json:"price"`
}

type BidPayload struct {
	ListingID       uint64 `json:"listing_id"`
	ConsumerAddress string `json:"consumer_address"`
	Status          string `json:"status"`
}

type DisputePayload struct {
	ListingID   uint64 `json:"listing_id"`
	Open        bool   `json:"open"`
	FavorFarmer *bool  `json:"favor_farmer,omitempty"` // only on resolution
	Status      string `json:"status"`
}

type PaymentReleasedPayload struct {
	ListingID       uint64    `json:"listing_id"`
	SellerAddress   string    `json:"seller_address"`
	ConsumerAddress string    `json:"consumer_address"`
	Amount          uint64    `json:"amount"`
	SettledAt       time.Time `json:"settled_at"`
}

type EscrowChangedPayload struct {
	ListingID uint64 `json:"listing_id"`
	Delta     int8   `json:"delta"` // +1 deposit, -1 withdrawal
	Amount    uint64 `json:"amount"`
	Balance   uint64 `json:"balance"`
}

type ListingUpdatedPayload struct {
	ListingID uint64 `json:"listing_id"`
	Field     string `json:"field"` // category | description | price | status
	Value     string `json:"value"`
}

type FarmerRatedPayload struct {
	ListingID uint64 `json:"listing_id"`
	Rating    uint8  `json:"rating"`
}

// Event is what the ledger hands to an Emitter after a successful write.
type Event struct {
	Type      string
	ListingID uint64
	Payload   any
}

// Emitter publishes ledger events. Implementations must not block the caller.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Event) {}
