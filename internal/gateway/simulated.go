package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedChain stands in for the blockchain in local runs. Transfers are
// recorded in memory, take a short random delay and fail at FailureRate.
type SimulatedChain struct {
	FailureRate float64
	Fee         decimal.Decimal
	MaxDelay    time.Duration

	// OnConfirmed, when set, is called in its own goroutine once a transfer
	// has been recorded.
	OnConfirmed func(ctx context.Context, tx *Transaction)

	mu  sync.RWMutex
	txs map[string]*Transaction
}

func NewSimulatedChain(fee decimal.Decimal) *SimulatedChain {
	return &SimulatedChain{
		FailureRate: 0.1,
		Fee:         fee,
		MaxDelay:    2 * time.Second,
		txs:         make(map[string]*Transaction),
	}
}

func (c *SimulatedChain) MultiTransfer(ctx context.Context, sources []TransferSource, destination string) (string, error) {
	if err := simulateLatency(ctx, c.MaxDelay); err != nil {
		return "", fmt.Errorf("blockchain call canceled: %w", err)
	}
	if rand.Float64() < c.FailureRate {
		return "", fmt.Errorf("blockchain node temporarily unavailable")
	}

	tx := &Transaction{
		Hash:        "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Destination: destination,
		Fee:         c.Fee,
		Sources:     append([]TransferSource(nil), sources...),
	}
	c.mu.Lock()
	c.txs[tx.Hash] = tx
	c.mu.Unlock()

	zap.L().Debug("simulated multi transfer recorded",
		zap.String("tx_hash", tx.Hash),
		zap.Int("sources", len(sources)),
	)
	if c.OnConfirmed != nil {
		go c.OnConfirmed(context.WithoutCancel(ctx), tx)
	}
	return tx.Hash, nil
}

func (c *SimulatedChain) GetTransaction(_ context.Context, hash string) (*Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	cp.Sources = append([]TransferSource(nil), tx.Sources...)
	return &cp, nil
}

func (c *SimulatedChain) FindTransfer(ctx context.Context, source, destination string) (*Transaction, error) {
	c.mu.RLock()
	var hash string
	for h, tx := range c.txs {
		if _, ok := tx.SourceAmount(source); ok && tx.Destination == destination {
			hash = h
			break
		}
	}
	c.mu.RUnlock()
	if hash == "" {
		return nil, ErrTransactionNotFound
	}
	return c.GetTransaction(ctx, hash)
}

// SimulatedBalances is an in-memory balance authority.
type SimulatedBalances struct {
	mu         sync.Mutex
	accounts   map[string]map[string]decimal.Decimal
	operations map[string]struct{}
}

func NewSimulatedBalances() *SimulatedBalances {
	return &SimulatedBalances{
		accounts:   make(map[string]map[string]decimal.Decimal),
		operations: make(map[string]struct{}),
	}
}

// Credit adds funds outside of any transfer, e.g. blockchain deposits.
func (b *SimulatedBalances) Credit(accountID, assetID string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adjust(accountID, assetID, amount)
}

func (b *SimulatedBalances) GetBalances(_ context.Context, accountID string) (map[string]decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for asset, amount := range b.accounts[accountID] {
		out[asset] = amount
	}
	return out, nil
}

func (b *SimulatedBalances) Transfer(_ context.Context, req InternalTransfer) (TransferStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.OperationID != "" {
		if _, seen := b.operations[req.OperationID]; seen {
			return TransferDuplicate, nil
		}
	}
	if !req.Amount.IsPositive() {
		return TransferRejected, nil
	}
	amount := req.Amount.Truncate(req.Accuracy)
	if b.accounts[req.FromAccountID][req.AssetID].LessThan(amount) {
		return TransferLowBalance, nil
	}

	b.adjust(req.FromAccountID, req.AssetID, amount.Neg())
	b.adjust(req.ToAccountID, req.AssetID, amount)
	if req.OperationID != "" {
		b.operations[req.OperationID] = struct{}{}
	}
	return TransferOk, nil
}

func (b *SimulatedBalances) adjust(accountID, assetID string, delta decimal.Decimal) {
	acc, ok := b.accounts[accountID]
	if !ok {
		acc = make(map[string]decimal.Decimal)
		b.accounts[accountID] = acc
	}
	acc[assetID] = acc[assetID].Add(delta)
}

// SimulatedExchange fills market orders at fixed prices and settles them on
// the SimulatedBalances account it trades for.
type SimulatedExchange struct {
	FailureRate float64

	assets    AssetService
	balances  *SimulatedBalances
	accountID string
	// prices holds quoting units per base unit, per asset pair id.
	prices map[string]decimal.Decimal

	mu     sync.Mutex
	filled map[string]MarketOrderResponse
}

func NewSimulatedExchange(assets AssetService, balances *SimulatedBalances, accountID string, prices map[string]decimal.Decimal) *SimulatedExchange {
	return &SimulatedExchange{
		FailureRate: 0.05,
		assets:      assets,
		balances:    balances,
		accountID:   accountID,
		prices:      prices,
		filled:      make(map[string]MarketOrderResponse),
	}
}

// PlaceMarketOrder fills at the configured price. An order id that was
// already filled returns the original fill without trading again.
func (e *SimulatedExchange) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*MarketOrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.ID != "" {
		if prev, ok := e.filled[req.ID]; ok {
			return &prev, nil
		}
	}

	pair, err := e.assets.GetAssetPair(ctx, req.AssetPairID)
	if err != nil {
		return &MarketOrderResponse{Status: MarketOrderUnknownAsset}, nil
	}
	price, ok := e.prices[pair.ID]
	if !ok || !price.IsPositive() || rand.Float64() < e.FailureRate {
		return &MarketOrderResponse{Status: MarketOrderNoLiquidity}, nil
	}
	if !req.Volume.IsPositive() {
		return &MarketOrderResponse{Status: MarketOrderInvalidVolume}, nil
	}

	source, dest, rate := pair.BaseAssetID, pair.QuotingAssetID, price
	if req.OrderAction == domain.OrderActionBuy {
		source, dest, rate = pair.QuotingAssetID, pair.BaseAssetID, decimal.NewFromInt(1).DivRound(price, 8)
	}

	e.balances.mu.Lock()
	defer e.balances.mu.Unlock()
	if e.balances.accounts[e.accountID][source].LessThan(req.Volume) {
		return &MarketOrderResponse{Status: MarketOrderNotEnoughFunds}, nil
	}
	e.balances.adjust(e.accountID, source, req.Volume.Neg())
	e.balances.adjust(e.accountID, dest, req.Volume.Mul(rate))

	resp := MarketOrderResponse{
		Status:  MarketOrderOk,
		Price:   rate,
		OrderID: uuid.NewString(),
	}
	if req.ID != "" {
		e.filled[req.ID] = resp
	}
	return &resp, nil
}

func simulateLatency(ctx context.Context, maxDelay time.Duration) error {
	if maxDelay <= 0 {
		return nil
	}
	delay := time.Duration(rand.Int63n(int64(maxDelay)))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
