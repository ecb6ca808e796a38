// Package gateway declares the external collaborators the settlement
// pipeline talks to: the blockchain, the matching engine, the balance
// service, asset metadata and the merchant directory.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrAssetNotFound       = errors.New("asset not found")
	ErrAssetPairNotFound   = errors.New("asset pair not found")
	ErrMerchantNotFound    = errors.New("merchant not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// TransferSource is one wallet contributing to a combined blockchain transfer.
type TransferSource struct {
	Address string          `json:"address"`
	AssetID string          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Transaction is the confirmed view of a blockchain transfer.
type Transaction struct {
	Hash        string
	Destination string
	Fee         decimal.Decimal
	Sources     []TransferSource
}

// SourceAmount sums what address contributed to the transaction.
func (t *Transaction) SourceAmount(address string) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, s := range t.Sources {
		if s.Address == address {
			total = total.Add(s.Amount)
			found = true
		}
	}
	return total, found
}

// TransactionLookup reads transaction details from the chain.
type TransactionLookup interface {
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	// FindTransfer returns the transaction that moved source into
	// destination, or ErrTransactionNotFound.
	FindTransfer(ctx context.Context, source, destination string) (*Transaction, error)
}

// BlockchainClient submits combined transfers.
type BlockchainClient interface {
	TransactionLookup
	// MultiTransfer moves every source into destination in one transaction
	// and returns its hash.
	MultiTransfer(ctx context.Context, sources []TransferSource, destination string) (string, error)
}

// MarketOrderStatus is the matching engine verdict.
type MarketOrderStatus string

const (
	MarketOrderOk                   MarketOrderStatus = "Ok"
	MarketOrderNoLiquidity          MarketOrderStatus = "NoLiquidity"
	MarketOrderLeadToNegativeSpread MarketOrderStatus = "LeadToNegativeSpread"
	MarketOrderNotEnoughFunds       MarketOrderStatus = "NotEnoughFunds"
	MarketOrderInvalidVolume        MarketOrderStatus = "InvalidVolume"
	MarketOrderUnknownAsset         MarketOrderStatus = "UnknownAsset"
	MarketOrderRuntime              MarketOrderStatus = "Runtime"
)

type MarketOrderRequest struct {
	ID          string
	ClientID    string
	AssetPairID string
	OrderAction string
	Volume      decimal.Decimal
	// Straight is true when Volume is expressed in the pair's base asset.
	Straight bool
}

type MarketOrderResponse struct {
	Status MarketOrderStatus
	// Price is the number of destination asset units received per source unit.
	Price   decimal.Decimal
	OrderID string
}

type MatchingEngine interface {
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*MarketOrderResponse, error)
}

// TransferStatus is the balance service verdict for an internal transfer.
type TransferStatus string

const (
	TransferOk         TransferStatus = "Ok"
	TransferLowBalance TransferStatus = "LowBalance"
	TransferDuplicate  TransferStatus = "Duplicate"
	TransferRejected   TransferStatus = "Rejected"
)

type InternalTransfer struct {
	OperationID   string
	FromAccountID string
	ToAccountID   string
	AssetID       string
	Accuracy      int32
	Amount        decimal.Decimal
}

// BalanceService is the authoritative ledger.
type BalanceService interface {
	GetBalances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error)
	Transfer(ctx context.Context, req InternalTransfer) (TransferStatus, error)
}

type Asset struct {
	ID       string
	Accuracy int32
}

type AssetPair struct {
	ID             string
	BaseAssetID    string
	QuotingAssetID string
	Accuracy       int32
}

type AssetService interface {
	GetAsset(ctx context.Context, id string) (Asset, error)
	GetAssetPair(ctx context.Context, id string) (AssetPair, error)
	// FindAssetPair returns the pair trading a against b in either direction.
	FindAssetPair(ctx context.Context, a, b string) (AssetPair, error)
}

type Merchant struct {
	ID       string
	ClientID string
	Name     string
}

type MerchantDirectory interface {
	GetMerchant(ctx context.Context, id string) (Merchant, error)
}
