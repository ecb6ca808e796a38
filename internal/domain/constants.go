package domain

// SettlementStatus is the stage a payment request has reached in the settlement pipeline.
type SettlementStatus string

const (
	StatusNone                   SettlementStatus = "None"
	StatusTransferToMarketQueued SettlementStatus = "TransferToMarketQueued"
	StatusTransferringToMarket   SettlementStatus = "TransferringToMarket"
	StatusTransferredToMarket    SettlementStatus = "TransferredToMarket"
	StatusExchangeQueued         SettlementStatus = "ExchangeQueued"
	StatusExchanged              SettlementStatus = "Exchanged"
	StatusTransferredToMerchant  SettlementStatus = "TransferredToMerchant"
)

// ProcessingError is the error marker attached to a payment request.
type ProcessingError string

const (
	ErrorNone                            ProcessingError = "None"
	ErrorUnknown                         ProcessingError = "Unknown"
	ErrorLowBalanceForExchange           ProcessingError = "LowBalanceForExchange"
	ErrorLowBalanceForTransferToMerchant ProcessingError = "LowBalanceForTransferToMerchant"
	ErrorMerchantNotFound                ProcessingError = "MerchantNotFound"
	ErrorNoLiquidityForExchange          ProcessingError = "NoLiquidityForExchange"
	ErrorExchangeLeadToNegativeSpread    ProcessingError = "ExchangeLeadToNegativeSpread"
	ErrorNoTransactionDetails            ProcessingError = "NoTransactionDetails"
)

// IsSet reports whether a real error is attached.
func (e ProcessingError) IsSet() bool {
	return e != "" && e != ErrorNone
}

// Order actions understood by the matching engine.
const (
	OrderActionBuy  = "Buy"
	OrderActionSell = "Sell"
)

// PaymentStatusConfirmed marks a payment request whose wallet has been funded.
const PaymentStatusConfirmed = "Confirmed"
