package service

import (
	"context"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/shopspring/decimal"
)

// PaymentRequestStore defines the payment request persistence contract
// required by services.
type PaymentRequestStore interface {
	Insert(ctx context.Context, req *models.PaymentRequest) error
	Get(ctx context.Context, merchantID, id string) (*models.PaymentRequest, error)
	Update(ctx context.Context, merchantID, id string, patch models.PaymentRequestPatch, allowedFrom []domain.SettlementStatus) (*models.PaymentRequest, error)
	FindByWalletAddress(ctx context.Context, address string) ([]models.PaymentRequest, error)
	FindByTransferHash(ctx context.Context, hash string) ([]models.PaymentRequest, error)
	FindByPeriod(ctx context.Context, from, to time.Time) ([]models.PaymentRequest, error)
	FindStale(ctx context.Context, statuses []domain.SettlementStatus, updatedBefore time.Time, limit int) ([]models.PaymentRequest, error)
}

// ExchangeWorkStore holds pending exchanges.
type ExchangeWorkStore interface {
	Add(ctx context.Context, item models.ExchangeWorkItem) (bool, error)
	NextEligible(ctx context.Context, before time.Time) (models.ExchangeWorkItem, bool, error)
	Touch(ctx context.Context, assetPairID, paymentRequestID string, at time.Time) error
	RecordFill(ctx context.Context, assetPairID, paymentRequestID, orderID string, price decimal.Decimal) error
	Delete(ctx context.Context, assetPairID, paymentRequestID string) error
	Exists(ctx context.Context, merchantID, paymentRequestID string) (bool, error)
	Count(ctx context.Context) (int64, error)
}
