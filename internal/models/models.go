package models

import (
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentRequest is the durable unit of settlement state, keyed by (MerchantID, ID).
type PaymentRequest struct {
	MerchantID        string          `json:"merchant_id"`
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	Amount            decimal.Decimal `json:"amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	PaidDate          time.Time       `json:"paid_date"`
	PaymentAssetID    string          `json:"payment_asset_id"`
	SettlementAssetID string          `json:"settlement_asset_id"`
	DueDate           time.Time       `json:"due_date"`
	MarkupPercent     decimal.Decimal `json:"markup_percent"`
	MarkupPips        decimal.Decimal `json:"markup_pips"`
	MarkupFixedFee    decimal.Decimal `json:"markup_fixed_fee"`
	WalletAddress     string          `json:"wallet_address"`
	MerchantClientID  string          `json:"merchant_client_id"`

	SettlementStatus              domain.SettlementStatus `json:"settlement_status"`
	MarketTransferTransactionHash string                  `json:"market_transfer_transaction_hash,omitempty"`
	MarketTransferFee             decimal.Decimal         `json:"market_transfer_fee"`
	MarketAmount                  decimal.Decimal         `json:"market_amount"`
	MarketPrice                   decimal.Decimal         `json:"market_price"`
	MarketOrderID                 string                  `json:"market_order_id,omitempty"`
	TransferredAmount             decimal.Decimal         `json:"transferred_amount"`

	Error            domain.ProcessingError `json:"error"`
	ErrorDescription string                 `json:"error_description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasError reports whether the request carries a processing error.
func (p *PaymentRequest) HasError() bool {
	return p.Error.IsSet()
}

// PaymentRequestPatch is a field-level merge. Nil fields keep the stored value.
type PaymentRequestPatch struct {
	SettlementStatus              *domain.SettlementStatus
	MerchantClientID              *string
	MarketTransferTransactionHash *string
	MarketTransferFee             *decimal.Decimal
	MarketAmount                  *decimal.Decimal
	MarketPrice                   *decimal.Decimal
	MarketOrderID                 *string
	TransferredAmount             *decimal.Decimal
	Error                         *domain.ProcessingError
	ErrorDescription              *string
}

// ClearError resets the error marker as part of the same merge.
func (p PaymentRequestPatch) ClearError() PaymentRequestPatch {
	none := domain.ErrorNone
	empty := ""
	p.Error = &none
	p.ErrorDescription = &empty
	return p
}

// Apply merges the patch into a copy of req.
func (p PaymentRequestPatch) Apply(req PaymentRequest) PaymentRequest {
	if p.SettlementStatus != nil {
		req.SettlementStatus = *p.SettlementStatus
	}
	if p.MerchantClientID != nil {
		req.MerchantClientID = *p.MerchantClientID
	}
	if p.MarketTransferTransactionHash != nil {
		req.MarketTransferTransactionHash = *p.MarketTransferTransactionHash
	}
	if p.MarketTransferFee != nil {
		req.MarketTransferFee = *p.MarketTransferFee
	}
	if p.MarketAmount != nil {
		req.MarketAmount = *p.MarketAmount
	}
	if p.MarketPrice != nil {
		req.MarketPrice = *p.MarketPrice
	}
	if p.MarketOrderID != nil {
		req.MarketOrderID = *p.MarketOrderID
	}
	if p.TransferredAmount != nil {
		req.TransferredAmount = *p.TransferredAmount
	}
	if p.Error != nil {
		req.Error = *p.Error
	}
	if p.ErrorDescription != nil {
		req.ErrorDescription = *p.ErrorDescription
	}
	return req
}

// ExchangeWorkItem is a pending exchange keyed by (AssetPairID, PaymentRequestID).
type ExchangeWorkItem struct {
	AssetPairID      string          `json:"asset_pair_id"`
	PaymentRequestID string          `json:"payment_request_id"`
	MerchantID       string          `json:"merchant_id"`
	OrderAction      string          `json:"order_action"`
	Volume           decimal.Decimal `json:"volume"`
	LastAttempt      time.Time       `json:"last_attempt"`
	CreatedAt        time.Time       `json:"created_at"`

	// FilledOrderID and FilledPrice are set once the engine has filled the
	// order, before the request itself is marked as exchanged.
	FilledOrderID string          `json:"filled_order_id,omitempty"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
}

// HasFill reports whether the order behind the item already executed.
func (i ExchangeWorkItem) HasFill() bool {
	return i.FilledPrice.IsPositive()
}

// TransferToMarketMessage is the to-market queue payload.
type TransferToMarketMessage struct {
	MerchantID       string          `json:"merchant_id"`
	PaymentRequestID string          `json:"payment_request_id"`
	WalletAddress    string          `json:"wallet_address"`
	AssetID          string          `json:"asset_id"`
	Amount           decimal.Decimal `json:"amount"`
}

// TransferToMerchantMessage is the to-merchant queue payload.
type TransferToMerchantMessage struct {
	MerchantID       string          `json:"merchant_id"`
	PaymentRequestID string          `json:"payment_request_id"`
	MerchantClientID string          `json:"merchant_client_id"`
	AssetID          string          `json:"asset_id"`
	Amount           decimal.Decimal `json:"amount"`
}
