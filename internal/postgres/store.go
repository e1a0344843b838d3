package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-farm-escrow/internal/listings"
)

// Store is the Postgres listings.Store: counter, listings and settled_sales tables.
type Store struct{ DB *pgxpool.Pool }

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(col, raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

func (s *Store) NextID(ctx context.Context) (uint64, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw string
	err = tx.QueryRow(ctx, `
		INSERT INTO listing_counter(region, value) VALUES ('listings', 1)
		ON CONFLICT (region) DO UPDATE SET value = listing_counter.value + 1
		RETURNING value::text`).Scan(&raw)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, listings.CounterOverflow(math.MaxUint64) // rollback via defer
	}
	if err != nil {
		return 0, fmt.Errorf("counter value %q: %w", raw, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

const selectListing = `
	SELECT id::text, seller_address, name, bio, category, price::text, escrow_balance::text,
	       dispute_status, rating, product_status, consumer_address, is_sold, created_at, updated_at
	FROM listings WHERE id = $1::numeric`

func (s *Store) Get(ctx context.Context, id uint64) (listings.Listing, bool, error) {
	var (
		l                     listings.Listing
		rawID, price, balance string
		rating                int16
	)
	err := s.DB.QueryRow(ctx, selectListing, u64(id)).Scan(
		&rawID, &l.SellerAddress, &l.Name, &l.Bio, &l.Category, &price, &balance,
		&l.DisputeStatus, &rating, &l.ProductStatus, &l.ConsumerAddress, &l.IsSold, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return listings.Listing{}, false, nil
	}
	if err != nil {
		return listings.Listing{}, false, err
	}
	if l.ID, err = parseU64("id", rawID); err != nil {
		return listings.Listing{}, false, err
	}
	if l.Price, err = parseU64("price", price); err != nil {
		return listings.Listing{}, false, err
	}
	if l.EscrowBalance, err = parseU64("escrow_balance", balance); err != nil {
		return listings.Listing{}, false, err
	}
	l.Rating = uint8(rating)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, true, nil
}

func upsertListing(ctx context.Context, db execer, l listings.Listing) error {
	_, err := db.Exec(ctx, `
		INSERT INTO listings(id, seller_address, name, bio, category, price, escrow_balance,
		                     dispute_status, rating, product_status, consumer_address, is_sold, created_at, updated_at)
		VALUES ($1::numeric, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			seller_address   = EXCLUDED.seller_address,
			name             = EXCLUDED.name,
			bio              = EXCLUDED.bio,
			category         = EXCLUDED.category,
			price            = EXCLUDED.price,
			escrow_balance   = EXCLUDED.escrow_balance,
			dispute_status   = EXCLUDED.dispute_status,
			rating           = EXCLUDED.rating,
			product_status   = EXCLUDED.product_status,
			consumer_address = EXCLUDED.consumer_address,
			is_sold          = EXCLUDED.is_sold,
			updated_at       = EXCLUDED.updated_at`,
		u64(l.ID), l.SellerAddress, l.Name, l.Bio, l.Category, u64(l.Price), u64(l.EscrowBalance),
		l.DisputeStatus, int16(l.Rating), l.ProductStatus, l.ConsumerAddress, l.IsSold, l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (s *Store) Put(ctx context.Context, l listings.Listing) error {
	return upsertListing(ctx, s.DB, l)
}

func (s *Store) Settlement(ctx context.Context, id uint64) (listings.SettledSale, bool, error) {
	var (
		sale          listings.SettledSale
		rawID, amount string
	)
	err := s.DB.QueryRow(ctx, `
		SELECT id::text, seller_address, consumer_address, amount::text, settled_at
		FROM settled_sales WHERE id = $1::numeric`, u64(id)).
		Scan(&rawID, &sale.SellerAddress, &sale.ConsumerAddress, &amount, &sale.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return listings.SettledSale{}, false, nil
	}
	if err != nil {
		return listings.SettledSale{}, false, err
	}
	if sale.ID, err = parseU64("id", rawID); err != nil {
		return listings.SettledSale{}, false, err
	}
	if sale.Amount, err = parseU64("amount", amount); err != nil {
		return listings.SettledSale{}, false, err
	}
	sale.SettledAt = sale.SettledAt.UTC()
	return sale, true, nil
}

// Archive updates the listing and inserts the settled sale in one transaction.
// A second archive for the same id is refused and nothing is committed.
func (s *Store) Archive(ctx context.Context, l listings.Listing, sale listings.SettledSale) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := upsertListing(ctx, tx, l); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `
		INSERT INTO settled_sales(id, seller_address, consumer_address, amount, settled_at)
		VALUES ($1::numeric, $2, $3, $4::numeric, $5)
		ON CONFLICT (id) DO NOTHING`,
		u64(sale.ID), sale.SellerAddress, sale.ConsumerAddress, u64(sale.Amount), sale.SettledAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &listings.Error{Kind: listings.KindAlreadySettled, Op: "archive", ID: sale.ID}
	}
	return tx.Commit(ctx)
}
