package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/jackc/pgx/v5"
)

const paymentRequestColumns = `merchant_id, id, order_id, amount, paid_amount, paid_date,
	payment_asset_id, settlement_asset_id, due_date, markup_percent, markup_pips, markup_fixed_fee,
	wallet_address, merchant_client_id, settlement_status, market_transfer_transaction_hash,
	market_transfer_fee, market_amount, market_price, market_order_id, transferred_amount,
	error, error_description, created_at, updated_at`

// PaymentRequestRepository persists payment requests in Postgres.
type PaymentRequestRepository struct {
	db DBTX
}

func NewPaymentRequestRepository(db DBTX) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

// Insert stores a new request. An existing (merchant, id) pair is left as is
// and reported with ErrPaymentRequestExists.
func (r *PaymentRequestRepository) Insert(ctx context.Context, req *models.PaymentRequest) error {
	query := `
		INSERT INTO payment_requests (
			merchant_id, id, order_id, amount, paid_amount, paid_date,
			payment_asset_id, settlement_asset_id, due_date, markup_percent, markup_pips, markup_fixed_fee,
			wallet_address, merchant_client_id, settlement_status, error, error_description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (merchant_id, id) DO NOTHING
		RETURNING created_at, updated_at
	`
	status := req.SettlementStatus
	if status == "" {
		status = domain.StatusNone
	}
	procErr := req.Error
	if procErr == "" {
		procErr = domain.ErrorNone
	}

	err := r.db.QueryRow(ctx, query,
		req.MerchantID, req.ID, req.OrderID, req.Amount, req.PaidAmount, req.PaidDate,
		req.PaymentAssetID, req.SettlementAssetID, req.DueDate, req.MarkupPercent, req.MarkupPips, req.MarkupFixedFee,
		req.WalletAddress, req.MerchantClientID, string(status), string(procErr), req.ErrorDescription,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPaymentRequestExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment request: %w", err)
	}
	req.SettlementStatus = status
	req.Error = procErr
	return nil
}

func (r *PaymentRequestRepository) Get(ctx context.Context, merchantID, id string) (*models.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE merchant_id = $1 AND id = $2`
	req, err := scanPaymentRequest(r.db.QueryRow(ctx, query, merchantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}
	return req, nil
}

// Update merges patch into the stored row in one statement. When allowedFrom
// is not empty the row must currently hold one of those statuses, otherwise
// nothing is written and ErrStatusConflict is returned.
func (r *PaymentRequestRepository) Update(
	ctx context.Context,
	merchantID, id string,
	patch models.PaymentRequestPatch,
	allowedFrom []domain.SettlementStatus,
) (*models.PaymentRequest, error) {
	query := `
		UPDATE payment_requests SET
			settlement_status                = COALESCE($3, settlement_status),
			merchant_client_id               = COALESCE($4, merchant_client_id),
			market_transfer_transaction_hash = COALESCE($5, market_transfer_transaction_hash),
			market_transfer_fee              = COALESCE($6::numeric, market_transfer_fee),
			market_amount                    = COALESCE($7::numeric, market_amount),
			market_price                     = COALESCE($8::numeric, market_price),
			market_order_id                  = COALESCE($9, market_order_id),
			transferred_amount               = COALESCE($10::numeric, transferred_amount),
			error                            = COALESCE($11, error),
			error_description                = COALESCE($12, error_description),
			updated_at                       = NOW()
		WHERE merchant_id = $1 AND id = $2
		  AND ($13::text[] IS NULL OR settlement_status = ANY($13::text[]))
		RETURNING ` + paymentRequestColumns

	var guard []string
	for _, s := range allowedFrom {
		guard = append(guard, string(s))
	}

	req, err := scanPaymentRequest(r.db.QueryRow(ctx, query,
		merchantID, id,
		statusArg(patch.SettlementStatus),
		patch.MerchantClientID,
		patch.MarketTransferTransactionHash,
		patch.MarketTransferFee,
		patch.MarketAmount,
		patch.MarketPrice,
		patch.MarketOrderID,
		patch.TransferredAmount,
		errorArg(patch.Error),
		patch.ErrorDescription,
		guard,
	))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update payment request: %w", err)
	}

	current, getErr := r.Get(ctx, merchantID, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, current.SettlementStatus)
}

func (r *PaymentRequestRepository) FindByWalletAddress(ctx context.Context, address string) ([]models.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE wallet_address = $1 ORDER BY created_at`
	return r.list(ctx, query, address)
}

func (r *PaymentRequestRepository) FindByTransferHash(ctx context.Context, hash string) ([]models.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE market_transfer_transaction_hash = $1 ORDER BY created_at`
	return r.list(ctx, query, hash)
}

func (r *PaymentRequestRepository) FindByPeriod(ctx context.Context, from, to time.Time) ([]models.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`
	return r.list(ctx, query, from, to)
}

// FindStale returns requests in one of statuses that have not changed since updatedBefore.
func (r *PaymentRequestRepository) FindStale(
	ctx context.Context,
	statuses []domain.SettlementStatus,
	updatedBefore time.Time,
	limit int,
) ([]models.PaymentRequest, error) {
	query := `
		SELECT ` + paymentRequestColumns + `
		FROM payment_requests
		WHERE settlement_status = ANY($1::text[]) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	return r.list(ctx, query, names, updatedBefore, limit)
}

func (r *PaymentRequestRepository) list(ctx context.Context, query string, args ...any) ([]models.PaymentRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment requests: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentRequest
	for rows.Next() {
		req, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment requests: %w", err)
	}
	return out, nil
}

func scanPaymentRequest(row pgx.Row) (*models.PaymentRequest, error) {
	var (
		req     models.PaymentRequest
		status  string
		procErr string
	)
	err := row.Scan(
		&req.MerchantID, &req.ID, &req.OrderID, &req.Amount, &req.PaidAmount, &req.PaidDate,
		&req.PaymentAssetID, &req.SettlementAssetID, &req.DueDate, &req.MarkupPercent, &req.MarkupPips, &req.MarkupFixedFee,
		&req.WalletAddress, &req.MerchantClientID, &status, &req.MarketTransferTransactionHash,
		&req.MarketTransferFee, &req.MarketAmount, &req.MarketPrice, &req.MarketOrderID, &req.TransferredAmount,
		&procErr, &req.ErrorDescription, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.SettlementStatus, err = domain.ParseSettlementStatus(status)
	if err != nil {
		return nil, err
	}
	req.Error = domain.ProcessingError(procErr)
	return &req, nil
}

func statusArg(s *domain.SettlementStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func errorArg(e *domain.ProcessingError) *string {
	if e == nil {
		return nil
	}
	v := string(*e)
	return &v
}
