package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const exchangeWorkColumns = `asset_pair_id, payment_request_id, merchant_id, order_action, volume, last_attempt, created_at,
	filled_order_id, filled_price`

// ExchangeWorkRepository stores pending exchanges keyed by (asset pair, payment request).
type ExchangeWorkRepository struct {
	db DBTX
}

func NewExchangeWorkRepository(db DBTX) *ExchangeWorkRepository {
	return &ExchangeWorkRepository{db: db}
}

// Add inserts the item unless one already exists for the same key.
// It reports whether a row was created.
func (r *ExchangeWorkRepository) Add(ctx context.Context, item models.ExchangeWorkItem) (bool, error) {
	query := `
		INSERT INTO exchange_work_items (asset_pair_id, payment_request_id, merchant_id, order_action, volume, last_attempt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_pair_id, payment_request_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		item.AssetPairID, item.PaymentRequestID, item.MerchantID, item.OrderAction, item.Volume, item.LastAttempt)
	if err != nil {
		return false, fmt.Errorf("failed to add exchange work item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// NextEligible returns the item with the oldest last attempt at or before before.
func (r *ExchangeWorkRepository) NextEligible(ctx context.Context, before time.Time) (models.ExchangeWorkItem, bool, error) {
	query := `
		SELECT ` + exchangeWorkColumns + `
		FROM exchange_work_items
		WHERE last_attempt <= $1
		ORDER BY last_attempt, created_at
		LIMIT 1
	`
	var item models.ExchangeWorkItem
	err := r.db.QueryRow(ctx, query, before).Scan(
		&item.AssetPairID, &item.PaymentRequestID, &item.MerchantID, &item.OrderAction,
		&item.Volume, &item.LastAttempt, &item.CreatedAt,
		&item.FilledOrderID, &item.FilledPrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ExchangeWorkItem{}, false, nil
	}
	if err != nil {
		return models.ExchangeWorkItem{}, false, fmt.Errorf("failed to select exchange work item: %w", err)
	}
	return item, true, nil
}

func (r *ExchangeWorkRepository) Touch(ctx context.Context, assetPairID, paymentRequestID string, at time.Time) error {
	query := `UPDATE exchange_work_items SET last_attempt = $3 WHERE asset_pair_id = $1 AND payment_request_id = $2`
	tag, err := r.db.Exec(ctx, query, assetPairID, paymentRequestID, at)
	if err != nil {
		return fmt.Errorf("failed to touch exchange work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFill stores the executed order on the item so a later pass can
// finish it without trading again.
func (r *ExchangeWorkRepository) RecordFill(ctx context.Context, assetPairID, paymentRequestID, orderID string, price decimal.Decimal) error {
	query := `
		UPDATE exchange_work_items SET filled_order_id = $3, filled_price = $4
		WHERE asset_pair_id = $1 AND payment_request_id = $2
	`
	tag, err := r.db.Exec(ctx, query, assetPairID, paymentRequestID, orderID, price)
	if err != nil {
		return fmt.Errorf("failed to record exchange fill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ExchangeWorkRepository) Delete(ctx context.Context, assetPairID, paymentRequestID string) error {
	query := `DELETE FROM exchange_work_items WHERE asset_pair_id = $1 AND payment_request_id = $2`
	if _, err := r.db.Exec(ctx, query, assetPairID, paymentRequestID); err != nil {
		return fmt.Errorf("failed to delete exchange work item: %w", err)
	}
	return nil
}

// Exists reports whether any work item is pending for the payment request.
func (r *ExchangeWorkRepository) Exists(ctx context.Context, merchantID, paymentRequestID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM exchange_work_items WHERE merchant_id = $1 AND payment_request_id = $2)`
	var ok bool
	if err := r.db.QueryRow(ctx, query, merchantID, paymentRequestID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check exchange work item: %w", err)
	}
	return ok, nil
}

func (r *ExchangeWorkRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM exchange_work_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count exchange work items: %w", err)
	}
	return n, nil
}
