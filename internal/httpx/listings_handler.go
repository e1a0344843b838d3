package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-farm-escrow/internal/listings"
	"github.com/ariefcatur/go-farm-escrow/internal/metrics"
	"github.com/ariefcatur/go-farm-escrow/internal/redisx"
)

type ListingsHandler struct {
	Ledger  *listings.Ledger
	Cache   *redisx.StatusCache // optional
	Idem    *redisx.Idempotency // optional
	Timeout time.Duration
	Log     *zap.Logger
}

type CreateListingResp struct {
	Listing    listings.Listing `json:"listing"`
	Idempotent bool             `json:"idempotent"`
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *ListingsHandler) Register(r chi.Router) {
	r.Route("/listings", func(r chi.Router) {
		r.Post("/", h.createListing)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getListing)
			r.Get("/description", h.getDescription)
			r.Get("/price", h.getPrice)
			r.Get("/status", h.getStatus)

			r.Post("/bids", h.placeBid)
			r.Post("/accept", h.command(func(ctx context.Context, id uint64) error { return h.Ledger.AcceptBid(ctx, id) }))
			r.Post("/sold", h.command(func(ctx context.Context, id uint64) error { return h.Ledger.MarkSold(ctx, id) }))
			r.Post("/disputes", h.command(func(ctx context.Context, id uint64) error { return h.Ledger.RaiseDispute(ctx, id) }))
			r.Post("/disputes/resolve", h.resolveDispute)
			r.Post("/release", h.releasePayment)
			r.Post("/escrow/deposit", h.escrow(true))
			r.Post("/escrow/withdraw", h.escrow(false))
			r.Post("/rating", h.rateFarmer)

			r.Put("/category", h.updateText("category", h.Ledger.UpdateCategory))
			r.Put("/description", h.updateText("description", h.Ledger.UpdateDescription))
			r.Put("/status", h.updateText("status", h.Ledger.UpdateStatus))
			r.Put("/price", h.updatePrice)
		})
	})
	r.Get("/settlements/{id}", h.getSettlement)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: "BadRequest", Message: msg})
}

func statusFor(k listings.Kind) int {
	switch k {
	case listings.KindNotFound:
		return http.StatusNotFound
	case listings.KindAlreadyBidOn, listings.KindNoBidToAccept, listings.KindNoConsumerToSellTo,
		listings.KindInvalidDisputeResolution, listings.KindAlreadySettled:
		return http.StatusConflict
	case listings.KindInsufficientFundsInEscrow, listings.KindOverflow:
		return http.StatusUnprocessableEntity
	case listings.KindInvalidRating:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *ListingsHandler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	k := listings.KindOf(err)
	if k == 0 {
		metrics.IncError("http", "ledger")
		h.logger().Error("http.ledger_error", zap.String("path", r.URL.Path), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, errorResp{Error: "Timeout", Message: "request timed out"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "Internal", Message: "internal error"})
		return
	}
	writeJSON(w, statusFor(k), errorResp{Error: k.String(), Message: err.Error()})
}

func (h *ListingsHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *ListingsHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func listingID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid listing id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

// cacheStatus writes l's status through to the cache. A newer entry already
// there wins; if the write fails the entry is dropped so readers fall back to the ledger.
func (h *ListingsHandler) cacheStatus(ctx context.Context, l listings.Listing) {
	if _, err := h.Cache.Set(ctx, l.ID, l.ProductStatus, redisx.Version(l.UpdatedAt)); err != nil {
		metrics.IncError("redis", "status_set")
		h.logger().Warn("http.status_cache_failed", zap.Uint64("listing_id", l.ID), zap.Error(err))
		if err := h.Cache.Invalidate(ctx, l.ID); err != nil {
			metrics.IncError("redis", "status_invalidate")
		}
	}
}

// refresh reloads id after a mutation and updates the cached status.
func (h *ListingsHandler) refresh(ctx context.Context, id uint64) (listings.Listing, error) {
	l, err := h.Ledger.Listing(ctx, id)
	if err != nil {
		return listings.Listing{}, err
	}
	h.cacheStatus(ctx, l)
	return l, nil
}

// done answers a successful mutation with the stored listing.
func (h *ListingsHandler) done(ctx context.Context, w http.ResponseWriter, r *http.Request, id uint64) {
	l, err := h.refresh(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *ListingsHandler) command(fn func(ctx context.Context, id uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := listingID(w, r)
		if !ok {
			return
		}
		ctx, cancel := h.ctx(r)
		defer cancel()
		if err := fn(ctx, id); err != nil {
			h.writeErr(w, r, err)
			return
		}
		h.done(ctx, w, r, id)
	}
}

func (h *ListingsHandler) createListing(w http.ResponseWriter, r *http.Request) {
	var in listings.CreateInput
	if !decode(w, r, &in) {
		return
	}
	if in.SellerAddress == "" || in.Name == "" {
		badRequest(w, "missing fields")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	// Fast-path idempotency via Redis; a Redis failure just means a fresh create.
	key := r.Header.Get("Idempotency-Key")
	if id, found, err := h.Idem.Lookup(ctx, key); err != nil {
		h.logger().Warn("http.idempotency_lookup_failed", zap.Error(err))
	} else if found {
		l, err := h.Ledger.Listing(ctx, id)
		if err == nil {
			writeJSON(w, http.StatusOK, CreateListingResp{Listing: l, Idempotent: true})
			return
		}
		if listings.KindOf(err) != listings.KindNotFound {
			h.writeErr(w, r, err)
			return
		}
	}

	l, err := h.Ledger.Create(ctx, in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.Idem.Remember(ctx, key, l.ID); err != nil {
		h.logger().Warn("http.idempotency_store_failed", zap.Uint64("listing_id", l.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, CreateListingResp{Listing: l})
}

func (h *ListingsHandler) getListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	l, err := h.Ledger.Listing(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *ListingsHandler) getDescription(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	bio, err := h.Ledger.Description(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "description": bio})
}

func (h *ListingsHandler) getPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	price, err := h.Ledger.Price(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "price": price})
}

func (h *ListingsHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	// 1) cache
	if s, hit := h.Cache.Get(ctx, id); hit {
		metrics.IncStatusCache("hit")
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": s})
		return
	}
	metrics.IncStatusCache("miss")

	// 2) ledger; the version keeps a slow fill from hiding a later update
	l, err := h.Ledger.Listing(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.cacheStatus(ctx, l)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": l.ProductStatus})
}

func (h *ListingsHandler) placeBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConsumerAddress string `json:"consumer_address"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ConsumerAddress == "" {
		badRequest(w, "missing consumer_address")
		return
	}
	h.command(func(ctx context.Context, id uint64) error {
		return h.Ledger.PlaceBid(ctx, id, req.ConsumerAddress)
	})(w, r)
}

func (h *ListingsHandler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FavorFarmer *bool `json:"favor_farmer"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.FavorFarmer == nil {
		badRequest(w, "missing favor_farmer")
		return
	}
	h.command(func(ctx context.Context, id uint64) error {
		return h.Ledger.ResolveDispute(ctx, id, *req.FavorFarmer)
	})(w, r)
}

func (h *ListingsHandler) releasePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	sale, err := h.Ledger.ReleasePayment(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if _, err := h.refresh(ctx, id); err != nil {
		h.logger().Warn("http.refresh_after_release_failed", zap.Uint64("listing_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, sale)
}

func (h *ListingsHandler) escrow(deposit bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount uint64 `json:"amount"`
		}
		if !decode(w, r, &req) {
			return
		}
		h.command(func(ctx context.Context, id uint64) error {
			if deposit {
				return h.Ledger.AddEscrow(ctx, id, req.Amount)
			}
			return h.Ledger.WithdrawEscrow(ctx, id, req.Amount)
		})(w, r)
	}
}

func (h *ListingsHandler) rateFarmer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating *uint8 `json:"rating"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Rating == nil {
		badRequest(w, "missing rating")
		return
	}
	h.command(func(ctx context.Context, id uint64) error {
		return h.Ledger.RateFarmer(ctx, id, *req.Rating)
	})(w, r)
}

func (h *ListingsHandler) updateText(field string, fn func(ctx context.Context, id uint64, v string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if !decode(w, r, &req) {
			return
		}
		v, ok := req[field]
		if !ok {
			badRequest(w, "missing "+field)
			return
		}
		h.command(func(ctx context.Context, id uint64) error { return fn(ctx, id, v) })(w, r)
	}
}

func (h *ListingsHandler) updatePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price *uint64 `json:"price"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Price == nil {
		badRequest(w, "missing price")
		return
	}
	h.command(func(ctx context.Context, id uint64) error {
		return h.Ledger.UpdatePrice(ctx, id, *req.Price)
	})(w, r)
}

func (h *ListingsHandler) getSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	sale, err := h.Ledger.Settlement(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}
