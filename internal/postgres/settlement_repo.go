package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-farm-escrow/internal/settlement"
)

// SettlementRepo is the downstream projection of payment releases.
type SettlementRepo struct{ DB *pgxpool.Pool }

// RecordSettlement is idempotent on listing id; the first event wins.
func (r *SettlementRepo) RecordSettlement(ctx context.Context, rep settlement.Report) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO settlement_reports(listing_id, event_id, seller_address, consumer_address, amount, settled_at)
		VALUES ($1::numeric, $2, $3, $4, $5::numeric, $6)
		ON CONFLICT (listing_id) DO NOTHING`,
		u64(rep.ListingID), rep.EventID, rep.SellerAddress, rep.ConsumerAddress, u64(rep.Amount), rep.SettledAt)
	return err
}
