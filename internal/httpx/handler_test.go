package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-farm-escrow/internal/listings"
	"github.com/ariefcatur/go-farm-escrow/internal/redisx"
	"github.com/ariefcatur/go-farm-escrow/internal/storage"
)

type testServer struct {
	srv *httptest.Server
	mr  *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerOn(t, newTestLedger(), miniredis.RunT(t))
}

func newTestLedger() *listings.Ledger {
	return listings.NewLedger(storage.NewRegionStore(storage.NewMemDB()), nil, nil,
		listings.Options{RequireFundedRelease: true})
}

// newTestServerOn serves lg with its own Redis client on mr, so several
// servers can share one ledger and one cache.
func newTestServerOn(t *testing.T, lg *listings.Ledger, mr *miniredis.Miniredis, hooks ...redis.Hook) *testServer {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	for _, h := range hooks {
		rdb.AddHook(h)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRouter(nil)
	(&ListingsHandler{
		Ledger: lg,
		Cache:  redisx.NewStatusCache(rdb),
		Idem:   redisx.NewIdempotency(rdb),
	}).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, mr: mr}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) create(t *testing.T) {
	t.Helper()
	resp, out := ts.do(t, http.MethodPost, "/listings", map[string]any{
		"seller_address": "farmer-1", "name": "Tomatoes", "bio": "heirloom", "category": "vegetables", "price": 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, float64(1), out["listing"].(map[string]any)["id"])
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateListing_Idempotent(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"seller_address": "farmer-1", "name": "Eggs", "price": 12}

	resp, first := ts.do(t, http.MethodPost, "/listings", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, false, first["idempotent"])

	resp, second := ts.do(t, http.MethodPost, "/listings", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, second["idempotent"])
	assert.Equal(t, first["listing"].(map[string]any)["id"], second["listing"].(map[string]any)["id"])
	assert.Equal(t, "1", mustGet(t, ts.mr, "idem:listing:create:abc"))

	resp, third := ts.do(t, http.MethodPost, "/listings", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(2), third["listing"].(map[string]any)["id"])
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestCreateListing_BadBody(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/listings", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/listings", map[string]any{"name": "no seller"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFullSaleFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t)

	resp, out := ts.do(t, http.MethodPost, "/listings/1/bids", map[string]any{"consumer_address": "buyer-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "buyer-1", out["consumer_address"])
	assert.Equal(t, "Bid Placed", out["product_status"])

	resp, _ = ts.do(t, http.MethodPost, "/listings/1/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/listings/1/escrow/deposit", map[string]any{"amount": 100})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/listings/1/sold", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, sale := ts.do(t, http.MethodPost, "/listings/1/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(100), sale["amount"])
	assert.Equal(t, "buyer-1", sale["consumer_address"])

	resp, out = ts.do(t, http.MethodPost, "/listings/1/release", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadySettled", out["error"])

	resp, got := ts.do(t, http.MethodGet, "/settlements/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sale, got)
}

func TestStatusReadThroughCache(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t)

	resp, out := ts.do(t, http.MethodGet, "/listings/1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Listed", out["status"])
	assert.Equal(t, "Listed", ts.mr.HGet("listing_status:1", "status"))

	// mutation writes the new value through
	resp, _ = ts.do(t, http.MethodPut, "/listings/1/status", map[string]any{"status": "Harvested"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Harvested", ts.mr.HGet("listing_status:1", "status"))

	_, out = ts.do(t, http.MethodGet, "/listings/1/status", nil)
	assert.Equal(t, "Harvested", out["status"])
}

// holdStatusFill parks the first cache write carrying status until release is closed.
type holdStatusFill struct {
	status  string
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (h *holdStatusFill) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *holdStatusFill) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *holdStatusFill) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if name := cmd.Name(); name == "evalsha" || name == "eval" {
			for _, a := range cmd.Args() {
				if s, ok := a.(string); ok && s == h.status {
					h.once.Do(func() {
						close(h.held)
						<-h.release
					})
					break
				}
			}
		}
		return next(ctx, cmd)
	}
}

func TestStatusFillCannotHideLaterUpdate(t *testing.T) {
	mr := miniredis.RunT(t)
	lg := newTestLedger()
	hold := &holdStatusFill{status: "Listed", held: make(chan struct{}), release: make(chan struct{})}
	reader := newTestServerOn(t, lg, mr, hold)
	writer := newTestServerOn(t, lg, mr)
	writer.create(t)

	first := make(chan string, 1)
	go func() {
		resp, err := http.Get(reader.srv.URL + "/listings/1/status")
		if err != nil {
			first <- err.Error()
			return
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		s, _ := out["status"].(string)
		first <- s
	}()

	select {
	case <-hold.held:
	case <-time.After(5 * time.Second):
		t.Fatal("reader never reached the cache fill")
	}

	// update lands while the reader still holds the old value
	resp, _ := writer.do(t, http.MethodPut, "/listings/1/status", map[string]any{"status": "Shipped"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	close(hold.release)
	assert.Equal(t, "Listed", <-first)

	assert.Equal(t, "Shipped", mr.HGet("listing_status:1", "status"))
	_, out := writer.do(t, http.MethodGet, "/listings/1/status", nil)
	assert.Equal(t, "Shipped", out["status"])
	_, out = reader.do(t, http.MethodGet, "/listings/1/status", nil)
	assert.Equal(t, "Shipped", out["status"])
}

func TestUpdatesAndQueries(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t)

	resp, _ := ts.do(t, http.MethodPut, "/listings/1/description", map[string]any{"description": "sun dried"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPut, "/listings/1/price", map[string]any{"price": 250})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, out := ts.do(t, http.MethodPut, "/listings/1/category", map[string]any{"category": "fruit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fruit", out["category"])

	_, out = ts.do(t, http.MethodGet, "/listings/1/description", nil)
	assert.Equal(t, "sun dried", out["description"])
	_, out = ts.do(t, http.MethodGet, "/listings/1/price", nil)
	assert.Equal(t, float64(250), out["price"])

	resp, _ = ts.do(t, http.MethodPut, "/listings/1/price", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		kind   string
	}{
		{"unknown listing", http.MethodGet, "/listings/999999", nil, http.StatusNotFound, "NotFound"},
		{"bad id", http.MethodGet, "/listings/abc", nil, http.StatusBadRequest, "BadRequest"},
		{"accept without bid", http.MethodPost, "/listings/1/accept", nil, http.StatusConflict, "NoBidToAccept"},
		{"sold without bid", http.MethodPost, "/listings/1/sold", nil, http.StatusConflict, "NoConsumerToSellTo"},
		{"resolve without dispute", http.MethodPost, "/listings/1/disputes/resolve", map[string]any{"favor_farmer": true}, http.StatusConflict, "InvalidDisputeResolution"},
		{"resolve missing flag", http.MethodPost, "/listings/1/disputes/resolve", map[string]any{}, http.StatusBadRequest, "BadRequest"},
		{"withdraw too much", http.MethodPost, "/listings/1/escrow/withdraw", map[string]any{"amount": 1}, http.StatusUnprocessableEntity, "InsufficientFundsInEscrow"},
		{"rating too high", http.MethodPost, "/listings/1/rating", map[string]any{"rating": 6}, http.StatusBadRequest, "InvalidRating"},
		{"rating not a byte", http.MethodPost, "/listings/1/rating", map[string]any{"rating": 300}, http.StatusBadRequest, "BadRequest"},
		{"no settlement", http.MethodGet, "/settlements/1", nil, http.StatusNotFound, "NotFound"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := ts.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.Equal(t, tc.kind, out["error"])
		})
	}

	// second bid keeps the first consumer
	resp, _ := ts.do(t, http.MethodPost, "/listings/1/bids", map[string]any{"consumer_address": "buyer-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, out := ts.do(t, http.MethodPost, "/listings/1/bids", map[string]any{"consumer_address": "buyer-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadyBidOn", out["error"])

	resp, out = ts.do(t, http.MethodPost, "/listings/1/escrow/deposit", map[string]any{"amount": uint64(18446744073709551615)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, out = ts.do(t, http.MethodPost, "/listings/1/escrow/deposit", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Overflow", out["error"])
}

func TestDisputeFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t)

	resp, out := ts.do(t, http.MethodPost, "/listings/1/disputes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["dispute_status"])

	resp, out = ts.do(t, http.MethodPost, "/listings/1/disputes/resolve", map[string]any{"favor_farmer": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["dispute_status"])
	assert.Equal(t, "Dispute Resolved - Funds to Consumer", out["product_status"])

	resp, out = ts.do(t, http.MethodPost, "/listings/1/rating", map[string]any{"rating": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), out["rating"])
}
