package listings

import (
	"context"
	"fmt"
)

// Store is the persistent side of the ledger: the id counter, the listing map
// and the archive of settled sales. There is no delete.
type Store interface {
	// NextID returns 1 on first use and strictly larger values afterwards.
	// It fails with a KindOverflow error instead of wrapping.
	NextID(ctx context.Context) (uint64, error)
	Get(ctx context.Context, id uint64) (Listing, bool, error)
	Put(ctx context.Context, l Listing) error
	Settlement(ctx context.Context, id uint64) (SettledSale, bool, error)
	// Archive writes l and inserts sale in one batch.
	Archive(ctx context.Context, l Listing, sale SettledSale) error
}

// CounterOverflow is returned by Store implementations whose counter is exhausted.
func CounterOverflow(limit uint64) error {
	return &Error{Kind: KindOverflow, Op: "next id", Err: fmt.Errorf("counter reached %d", limit)}
}
