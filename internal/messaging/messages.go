package messaging

import (
	"time"

	"github.com/shopspring/decimal"
)

// Command is a request for the settlement service to perform a pipeline step.
type Command interface {
	CommandType() string
	command()
}

// Event is a fact published by the settlement service or an upstream system.
type Event interface {
	EventType() string
	event()
}

const (
	TypeCreateSettlement   = "CreateSettlement"
	TypeTransferToMarket   = "TransferToMarket"
	TypeExchange           = "Exchange"
	TypeTransferToMerchant = "TransferToMerchant"

	TypePaymentRequestDetailsReceived   = "PaymentRequestDetailsReceived"
	TypeBlockchainTransferConfirmed     = "BlockchainTransferConfirmed"
	TypeSettlementCreated               = "SettlementCreated"
	TypeSettlementTransferToMarketQueue = "SettlementTransferToMarketQueued"
	TypeSettlementTransferringToMarket  = "SettlementTransferringToMarket"
	TypeSettlementExchangeQueued        = "SettlementExchangeQueued"
	TypeSettlementExchanged             = "SettlementExchanged"
	TypeSettlementTransferredToMerchant = "SettlementTransferredToMerchant"
	TypeSettlementError                 = "SettlementError"
)

// CommandTypes lists every command routing key.
var CommandTypes = []string{
	TypeCreateSettlement,
	TypeTransferToMarket,
	TypeExchange,
	TypeTransferToMerchant,
}

// EventTypes lists every event routing key.
var EventTypes = []string{
	TypePaymentRequestDetailsReceived,
	TypeBlockchainTransferConfirmed,
	TypeSettlementCreated,
	TypeSettlementTransferToMarketQueue,
	TypeSettlementTransferringToMarket,
	TypeSettlementExchangeQueued,
	TypeSettlementExchanged,
	TypeSettlementTransferredToMerchant,
	TypeSettlementError,
}

type CreateSettlement struct {
	MerchantID        string          `json:"merchant_id" validate:"required"`
	PaymentRequestID  string          `json:"payment_request_id" validate:"required"`
	OrderID           string          `json:"order_id"`
	Amount            decimal.Decimal `json:"amount"`
	SettlementAssetID string          `json:"settlement_asset_id" validate:"required"`
	PaymentAssetID    string          `json:"payment_asset_id" validate:"required"`
	DueDate           time.Time       `json:"due_date"`
	MarkupPercent     decimal.Decimal `json:"markup_percent"`
	MarkupPips        decimal.Decimal `json:"markup_pips"`
	MarkupFixedFee    decimal.Decimal `json:"markup_fixed_fee"`
	WalletAddress     string          `json:"wallet_address" validate:"required"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	PaidDate          time.Time       `json:"paid_date"`
}

type TransferToMarket struct {
	MerchantID       string `json:"merchant_id"`
	PaymentRequestID string `json:"payment_request_id"`
}

type Exchange struct {
	TransactionHash string          `json:"transaction_hash"`
	TransactionFee  decimal.Decimal `json:"transaction_fee"`
}

type TransferToMerchant struct {
	MerchantID       string `json:"merchant_id"`
	PaymentRequestID string `json:"payment_request_id"`
}

func (CreateSettlement) CommandType() string   { return TypeCreateSettlement }
func (TransferToMarket) CommandType() string   { return TypeTransferToMarket }
func (Exchange) CommandType() string           { return TypeExchange }
func (TransferToMerchant) CommandType() string { return TypeTransferToMerchant }

func (CreateSettlement) command()   {}
func (TransferToMarket) command()   {}
func (Exchange) command()           {}
func (TransferToMerchant) command() {}

// PaymentRequestDetailsReceived is published by the payment gateway whenever a
// payment request changes. Settlement starts once its status is Confirmed.
type PaymentRequestDetailsReceived struct {
	MerchantID        string          `json:"merchant_id"`
	PaymentRequestID  string          `json:"payment_request_id"`
	OrderID           string          `json:"order_id"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	SettlementAssetID string          `json:"settlement_asset_id"`
	PaymentAssetID    string          `json:"payment_asset_id"`
	DueDate           time.Time       `json:"due_date"`
	MarkupPercent     decimal.Decimal `json:"markup_percent"`
	MarkupPips        decimal.Decimal `json:"markup_pips"`
	MarkupFixedFee    decimal.Decimal `json:"markup_fixed_fee"`
	WalletAddress     string          `json:"wallet_address"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	PaidDate          time.Time       `json:"paid_date"`
}

// BlockchainTransferConfirmed is published by the blockchain watcher.
type BlockchainTransferConfirmed struct {
	TransactionHash    string          `json:"transaction_hash"`
	DestinationAddress string          `json:"destination_address"`
	TransactionFee     decimal.Decimal `json:"transaction_fee"`
}

type SettlementCreated struct {
	MerchantID       string `json:"merchant_id"`
	PaymentRequestID string `json:"payment_request_id"`
	IsError          bool   `json:"is_error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type SettlementTransferToMarketQueued struct {
	MerchantID       string `json:"merchant_id"`
	PaymentRequestID string `json:"payment_request_id"`
}

type SettlementTransferringToMarket struct {
	MerchantID         string          `json:"merchant_id"`
	PaymentRequestID   string          `json:"payment_request_id"`
	TransactionHash    string          `json:"transaction_hash"`
	DestinationAddress string          `json:"destination_address"`
	Amount             decimal.Decimal `json:"amount"`
	AssetID            string          `json:"asset_id"`
}

type SettlementExchangeQueued struct {
	MerchantID       string          `json:"merchant_id"`
	PaymentRequestID string          `json:"payment_request_id"`
	TransactionHash  string          `json:"transaction_hash"`
	TransactionFee   decimal.Decimal `json:"transaction_fee"`
	MarketAmount     decimal.Decimal `json:"market_amount"`
	AssetID          string          `json:"asset_id"`
}

type SettlementExchanged struct {
	MerchantID       string          `json:"merchant_id"`
	PaymentRequestID string          `json:"payment_request_id"`
	MarketAmount     decimal.Decimal `json:"market_amount"`
	MarketPrice      decimal.Decimal `json:"market_price"`
	MarketOrderID    string          `json:"market_order_id,omitempty"`
}

type SettlementTransferredToMerchant struct {
	MerchantID         string          `json:"merchant_id"`
	PaymentRequestID   string          `json:"payment_request_id"`
	TransferredAmount  decimal.Decimal `json:"transferred_amount"`
	TransferredAssetID string          `json:"transferred_asset_id"`
}

type SettlementError struct {
	MerchantID       string `json:"merchant_id"`
	PaymentRequestID string `json:"payment_request_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (PaymentRequestDetailsReceived) EventType() string { return TypePaymentRequestDetailsReceived }
func (BlockchainTransferConfirmed) EventType() string   { return TypeBlockchainTransferConfirmed }
func (SettlementCreated) EventType() string             { return TypeSettlementCreated }
func (SettlementTransferToMarketQueued) EventType() string {
	return TypeSettlementTransferToMarketQueue
}
func (SettlementTransferringToMarket) EventType() string  { return TypeSettlementTransferringToMarket }
func (SettlementExchangeQueued) EventType() string        { return TypeSettlementExchangeQueued }
func (SettlementExchanged) EventType() string             { return TypeSettlementExchanged }
func (SettlementTransferredToMerchant) EventType() string { return TypeSettlementTransferredToMerchant }
func (SettlementError) EventType() string                 { return TypeSettlementError }

func (PaymentRequestDetailsReceived) event()    {}
func (BlockchainTransferConfirmed) event()      {}
func (SettlementCreated) event()                {}
func (SettlementTransferToMarketQueued) event() {}
func (SettlementTransferringToMarket) event()   {}
func (SettlementExchangeQueued) event()         {}
func (SettlementExchanged) event()              {}
func (SettlementTransferredToMerchant) event()  {}
func (SettlementError) event()                  {}
