package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_requests (
		merchant_id                      TEXT        NOT NULL,
		id                               TEXT        NOT NULL,
		order_id                         TEXT        NOT NULL DEFAULT '',
		amount                           NUMERIC     NOT NULL DEFAULT 0,
		paid_amount                      NUMERIC     NOT NULL DEFAULT 0,
		paid_date                        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		payment_asset_id                 TEXT        NOT NULL,
		settlement_asset_id              TEXT        NOT NULL,
		due_date                         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		markup_percent                   NUMERIC     NOT NULL DEFAULT 0,
		markup_pips                      NUMERIC     NOT NULL DEFAULT 0,
		markup_fixed_fee                 NUMERIC     NOT NULL DEFAULT 0,
		wallet_address                   TEXT        NOT NULL,
		merchant_client_id               TEXT        NOT NULL DEFAULT '',
		settlement_status                TEXT        NOT NULL DEFAULT 'None',
		market_transfer_transaction_hash TEXT        NOT NULL DEFAULT '',
		market_transfer_fee              NUMERIC     NOT NULL DEFAULT 0,
		market_amount                    NUMERIC     NOT NULL DEFAULT 0,
		market_price                     NUMERIC     NOT NULL DEFAULT 0,
		market_order_id                  TEXT        NOT NULL DEFAULT '',
		transferred_amount               NUMERIC     NOT NULL DEFAULT 0,
		error                            TEXT        NOT NULL DEFAULT 'None',
		error_description                TEXT        NOT NULL DEFAULT '',
		created_at                       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (merchant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_requests_wallet ON payment_requests (wallet_address)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_requests_transfer_hash ON payment_requests (market_transfer_transaction_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_requests_status_updated ON payment_requests (settlement_status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_requests_created ON payment_requests (created_at)`,
	`CREATE TABLE IF NOT EXISTS exchange_work_items (
		asset_pair_id      TEXT        NOT NULL,
		payment_request_id TEXT        NOT NULL,
		merchant_id        TEXT        NOT NULL,
		order_action       TEXT        NOT NULL,
		volume             NUMERIC     NOT NULL,
		last_attempt       TIMESTAMPTZ NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		filled_order_id    TEXT        NOT NULL DEFAULT '',
		filled_price       NUMERIC     NOT NULL DEFAULT 0,
		PRIMARY KEY (asset_pair_id, payment_request_id)
	)`,
	`ALTER TABLE exchange_work_items ADD COLUMN IF NOT EXISTS filled_order_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE exchange_work_items ADD COLUMN IF NOT EXISTS filled_price NUMERIC NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS idx_exchange_work_last_attempt ON exchange_work_items (last_attempt)`,
	`CREATE INDEX IF NOT EXISTS idx_exchange_work_request ON exchange_work_items (merchant_id, payment_request_id)`,
}

// EnsureSchema creates the settlement tables when they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
