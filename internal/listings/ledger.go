package listings

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-farm-escrow/internal/metrics"
	"go.uber.org/zap"
)

type Options struct {
	// MaxRating bounds RateFarmer, 1..255. 0 means the default of 5; a
	// maximum of 0 is not configurable.
	MaxRating uint8
	// RequireFundedRelease makes ReleasePayment refuse while EscrowBalance < Price.
	RequireFundedRelease bool
	Now                  func() time.Time
}

// Ledger is the escrow/dispute state machine. Every exported method is one
// critical section: load the listing, check the guard, write it back.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	emitter Emitter
	log     *zap.Logger
	opts    Options
}

func NewLedger(store Store, emitter Emitter, log *zap.Logger, opts Options) *Ledger {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxRating == 0 {
		opts.MaxRating = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{store: store, emitter: emitter, log: log, opts: opts}
}

// storeErr wraps an infrastructure failure; it carries no Kind.
func storeErr(op string, id uint64, err error) error {
	if id == 0 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s listing %d: %w", op, id, err)
}

func (lg *Ledger) now() time.Time { return lg.opts.Now().UTC() }

func (lg *Ledger) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		if k := KindOf(err); k != 0 {
			result = k.String()
		} else {
			result = "error"
		}
	}
	metrics.ObserveOperation(op, result, start)
}

// load fetches id or returns a NotFound error tagged with op.
func (lg *Ledger) load(ctx context.Context, op string, id uint64) (Listing, error) {
	l, ok, err := lg.store.Get(ctx, id)
	if err != nil {
		return Listing{}, storeErr(op, id, err)
	}
	if !ok {
		return Listing{}, newErr(KindNotFound, op, id)
	}
	return l, nil
}

// mutate runs the load/validate/store sequence shared by every command.
// apply works on a copy; returning an error leaves the stored value untouched.
func (lg *Ledger) mutate(ctx context.Context, op string, id uint64, apply func(*Listing) (*Event, error)) (err error) {
	start := time.Now()
	defer func() { lg.observe(op, start, err) }()

	lg.mu.Lock()
	defer lg.mu.Unlock()

	l, err := lg.load(ctx, op, id)
	if err != nil {
		return err
	}
	ev, err := apply(&l)
	if err != nil {
		return err
	}
	l.UpdatedAt = lg.now()
	if err := lg.store.Put(ctx, l); err != nil {
		return storeErr(op, id, err)
	}
	if ev != nil {
		lg.emitter.Emit(ctx, *ev)
	}
	return nil
}

// Create allocates an id and stores a fresh listing.
func (lg *Ledger) Create(ctx context.Context, in CreateInput) (_ Listing, err error) {
	const op = "create listing"
	start := time.Now()
	defer func() { lg.observe(op, start, err) }()

	lg.mu.Lock()
	defer lg.mu.Unlock()

	id, err := lg.store.NextID(ctx)
	if err != nil {
		if KindOf(err) == KindOverflow {
			return Listing{}, err
		}
		return Listing{}, storeErr(op, 0, err)
	}
	status := in.ProductStatus
	if status == "" {
		status = string(StatusListed)
	}
	now := lg.now()
	l := Listing{
		ID:            id,
		SellerAddress: in.SellerAddress,
		Name:          in.Name,
		Bio:           in.Bio,
		Category:      in.Category,
		Price:         in.Price,
		ProductStatus: status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := lg.store.Put(ctx, l); err != nil {
		return Listing{}, storeErr(op, id, err)
	}
	lg.log.Info("ledger.listing_created", zap.Uint64("listing_id", id), zap.String("seller", in.SellerAddress))
	lg.emitter.Emit(ctx, Event{Type: EventListingCreated, ListingID: id, Payload: ListingCreatedPayload{
		ListingID: id, SellerAddress: l.SellerAddress, Name: l.Name, Category: l.Category, Price: l.Price,
	}})
	return l, nil
}

// PlaceBid records the first consumer to bid. A second bid is refused and the
// stored consumer stays as it was.
func (lg *Ledger) PlaceBid(ctx context.Context, id uint64, consumer string) error {
	const op = "place bid"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if l.HasBid() {
			return nil, newErr(KindAlreadyBidOn, op, id)
		}
		c := consumer
		l.ConsumerAddress = &c
		l.ProductStatus = string(StatusBidPlaced)
		return &Event{Type: EventBidPlaced, ListingID: id, Payload: BidPayload{
			ListingID: id, ConsumerAddress: c, Status: l.ProductStatus,
		}}, nil
	})
}

func (lg *Ledger) AcceptBid(ctx context.Context, id uint64) error {
	const op = "accept bid"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if !l.HasBid() {
			return nil, newErr(KindNoBidToAccept, op, id)
		}
		l.ProductStatus = string(StatusBidAccepted)
		return &Event{Type: EventBidAccepted, ListingID: id, Payload: BidPayload{
			ListingID: id, ConsumerAddress: l.Consumer(), Status: l.ProductStatus,
		}}, nil
	})
}

func (lg *Ledger) MarkSold(ctx context.Context, id uint64) error {
	const op = "mark sold"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if !l.HasBid() {
			return nil, newErr(KindNoConsumerToSellTo, op, id)
		}
		l.IsSold = true
		l.ProductStatus = string(StatusSold)
		return &Event{Type: EventListingSold, ListingID: id, Payload: BidPayload{
			ListingID: id, ConsumerAddress: l.Consumer(), Status: l.ProductStatus,
		}}, nil
	})
}

// RaiseDispute has no precondition; raising on a listing nobody bid on is
// allowed but logged.
func (lg *Ledger) RaiseDispute(ctx context.Context, id uint64) error {
	const op = "raise dispute"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if st := StateOf(*l); st == StateListed {
			lg.log.Warn("ledger.dispute_without_bid", zap.Uint64("listing_id", id), zap.String("state", string(st)))
		}
		l.DisputeStatus = true
		l.ProductStatus = string(StatusDisputeRaised)
		return &Event{Type: EventDisputeRaised, ListingID: id, Payload: DisputePayload{
			ListingID: id, Open: true, Status: l.ProductStatus,
		}}, nil
	})
}

func (lg *Ledger) ResolveDispute(ctx context.Context, id uint64, favorFarmer bool) error {
	const op = "resolve dispute"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if !l.DisputeStatus {
			return nil, newErr(KindInvalidDisputeResolution, op, id)
		}
		l.DisputeStatus = false
		l.ProductStatus = string(ResolutionStatus(favorFarmer))
		favor := favorFarmer
		return &Event{Type: EventDisputeResolved, ListingID: id, Payload: DisputePayload{
			ListingID: id, Open: false, FavorFarmer: &favor, Status: l.ProductStatus,
		}}, nil
	})
}

// ReleasePayment zeroes the escrow balance and archives the sale. It needs a
// completed sale with no open dispute, and runs at most once per listing.
func (lg *Ledger) ReleasePayment(ctx context.Context, id uint64) (sale SettledSale, err error) {
	const op = "release payment"
	start := time.Now()
	defer func() { lg.observe(op, start, err) }()

	lg.mu.Lock()
	defer lg.mu.Unlock()

	l, err := lg.load(ctx, op, id)
	if err != nil {
		return SettledSale{}, err
	}
	// only a completed sale with no open dispute can settle
	if StateOf(l) != StateSold {
		return SettledSale{}, newErr(KindInvalidDisputeResolution, op, id)
	}
	if _, archived, err := lg.store.Settlement(ctx, id); err != nil {
		return SettledSale{}, storeErr(op, id, err)
	} else if archived {
		return SettledSale{}, newErr(KindAlreadySettled, op, id)
	}
	if lg.opts.RequireFundedRelease && l.EscrowBalance < l.Price {
		return SettledSale{}, newErr(KindInsufficientFundsInEscrow, op, id)
	}

	now := lg.now()
	sale = SettledSale{
		ID:              l.ID,
		SellerAddress:   l.SellerAddress,
		ConsumerAddress: l.Consumer(),
		Amount:          l.EscrowBalance,
		SettledAt:       now,
	}
	l.EscrowBalance = 0
	l.ProductStatus = string(StatusPaymentReleased)
	l.UpdatedAt = now
	if err := lg.store.Archive(ctx, l, sale); err != nil {
		return SettledSale{}, storeErr(op, id, err)
	}
	metrics.ListingsSettled.Inc()
	lg.log.Info("ledger.payment_released",
		zap.Uint64("listing_id", id),
		zap.String("seller", sale.SellerAddress),
		zap.Uint64("amount", sale.Amount),
	)
	lg.emitter.Emit(ctx, Event{Type: EventPaymentReleased, ListingID: id, Payload: PaymentReleasedPayload{
		ListingID:       id,
		SellerAddress:   sale.SellerAddress,
		ConsumerAddress: sale.ConsumerAddress,
		Amount:          sale.Amount,
		SettledAt:       sale.SettledAt,
	}})
	return sale, nil
}

func (lg *Ledger) AddEscrow(ctx context.Context, id, amount uint64) error {
	const op = "add escrow"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if l.EscrowBalance > math.MaxUint64-amount {
			return nil, newErr(KindOverflow, op, id)
		}
		l.EscrowBalance += amount
		return &Event{Type: EventEscrowChanged, ListingID: id, Payload: EscrowChangedPayload{
			ListingID: id, Delta: 1, Amount: amount, Balance: l.EscrowBalance,
		}}, nil
	})
}

func (lg *Ledger) WithdrawEscrow(ctx context.Context, id, amount uint64) error {
	const op = "withdraw escrow"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if l.EscrowBalance < amount {
			return nil, newErr(KindInsufficientFundsInEscrow, op, id)
		}
		l.EscrowBalance -= amount
		return &Event{Type: EventEscrowChanged, ListingID: id, Payload: EscrowChangedPayload{
			ListingID: id, Delta: -1, Amount: amount, Balance: l.EscrowBalance,
		}}, nil
	})
}

func updated(id uint64, field, value string) *Event {
	return &Event{Type: EventListingUpdated, ListingID: id, Payload: ListingUpdatedPayload{
		ListingID: id, Field: field, Value: value,
	}}
}

func (lg *Ledger) UpdateCategory(ctx context.Context, id uint64, category string) error {
	return lg.mutate(ctx, "update category", id, func(l *Listing) (*Event, error) {
		l.Category = category
		return updated(id, "category", category), nil
	})
}

func (lg *Ledger) UpdateDescription(ctx context.Context, id uint64, bio string) error {
	return lg.mutate(ctx, "update description", id, func(l *Listing) (*Event, error) {
		l.Bio = bio
		return updated(id, "description", bio), nil
	})
}

func (lg *Ledger) UpdatePrice(ctx context.Context, id, price uint64) error {
	return lg.mutate(ctx, "update price", id, func(l *Listing) (*Event, error) {
		l.Price = price
		return updated(id, "price", strconv.FormatUint(price, 10)), nil
	})
}

// UpdateStatus overwrites the free-text label only; structured fields are untouched.
func (lg *Ledger) UpdateStatus(ctx context.Context, id uint64, status string) error {
	return lg.mutate(ctx, "update status", id, func(l *Listing) (*Event, error) {
		l.ProductStatus = status
		return updated(id, "status", status), nil
	})
}

func (lg *Ledger) RateFarmer(ctx context.Context, id uint64, rating uint8) error {
	const op = "rate farmer"
	return lg.mutate(ctx, op, id, func(l *Listing) (*Event, error) {
		if rating > lg.opts.MaxRating {
			return nil, newErr(KindInvalidRating, op, id)
		}
		l.Rating = rating
		return &Event{Type: EventFarmerRated, ListingID: id, Payload: FarmerRatedPayload{
			ListingID: id, Rating: rating,
		}}, nil
	})
}

// ---- queries ----

func (lg *Ledger) read(ctx context.Context, op string, id uint64) (l Listing, err error) {
	start := time.Now()
	defer func() { lg.observe(op, start, err) }()

	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.load(ctx, op, id)
}

// Listing returns the full stored record.
func (lg *Ledger) Listing(ctx context.Context, id uint64) (Listing, error) {
	return lg.read(ctx, "get listing", id)
}

func (lg *Ledger) Description(ctx context.Context, id uint64) (string, error) {
	l, err := lg.read(ctx, "get description", id)
	return l.Bio, err
}

func (lg *Ledger) Price(ctx context.Context, id uint64) (uint64, error) {
	l, err := lg.read(ctx, "get price", id)
	return l.Price, err
}

func (lg *Ledger) Status(ctx context.Context, id uint64) (string, error) {
	l, err := lg.read(ctx, "get status", id)
	return l.ProductStatus, err
}

// Settlement returns the archive entry for id, NotFound if it was never released.
func (lg *Ledger) Settlement(ctx context.Context, id uint64) (sale SettledSale, err error) {
	const op = "get settlement"
	start := time.Now()
	defer func() { lg.observe(op, start, err) }()

	lg.mu.Lock()
	defer lg.mu.Unlock()

	sale, ok, err := lg.store.Settlement(ctx, id)
	if err != nil {
		return SettledSale{}, storeErr(op, id, err)
	}
	if !ok {
		return SettledSale{}, newErr(KindNotFound, op, id)
	}
	return sale, nil
}
