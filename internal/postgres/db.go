package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// unsigned 64-bit values are kept as NUMERIC(20,0); BIGINT is signed.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS listing_counter (
		region TEXT PRIMARY KEY,
		value  NUMERIC(20,0) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id               NUMERIC(20,0) PRIMARY KEY,
		seller_address   TEXT NOT NULL,
		name             TEXT NOT NULL,
		bio              TEXT NOT NULL,
		category         TEXT NOT NULL,
		price            NUMERIC(20,0) NOT NULL,
		escrow_balance   NUMERIC(20,0) NOT NULL DEFAULT 0,
		dispute_status   BOOLEAN NOT NULL DEFAULT FALSE,
		rating           SMALLINT NOT NULL DEFAULT 0,
		product_status   TEXT NOT NULL,
		consumer_address TEXT,
		is_sold          BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS settled_sales (
		id               NUMERIC(20,0) PRIMARY KEY,
		seller_address   TEXT NOT NULL,
		consumer_address TEXT NOT NULL DEFAULT '',
		amount           NUMERIC(20,0) NOT NULL,
		settled_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settlement_reports (
		listing_id       NUMERIC(20,0) PRIMARY KEY,
		event_id         TEXT NOT NULL,
		seller_address   TEXT NOT NULL,
		consumer_address TEXT NOT NULL,
		amount           NUMERIC(20,0) NOT NULL,
		settled_at       TIMESTAMPTZ NOT NULL,
		recorded_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
