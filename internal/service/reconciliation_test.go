package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/ayo6706/merchant-settlement/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliation_RepairsLostEnqueues(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seed("pr-none", domain.StatusNone, nil)
	h.seed("pr-queued", domain.StatusTransferToMarketQueued, nil)
	h.seed("pr-transferred", domain.StatusTransferredToMarket, func(r *models.PaymentRequest) { r.MarketAmount = dec("10") })
	h.seed("pr-exchange", domain.StatusExchangeQueued, func(r *models.PaymentRequest) { r.MarketAmount = dec("20") })
	h.seed("pr-exchanged", domain.StatusExchanged, func(r *models.PaymentRequest) {
		r.MarketAmount = dec("10")
		r.MarketPrice = dec("1")
	})
	h.store.age(time.Hour)

	report, err := h.reconciliation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconciliationReport{Scanned: 5, Repaired: 5}, report)

	assert.Equal(t, domain.StatusTransferToMarketQueued, h.store.mustGet(testMerchant, "pr-none").SettlementStatus)
	queued, err := h.toMarket.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	assert.Equal(t, domain.StatusExchangeQueued, h.store.mustGet(testMerchant, "pr-transferred").SettlementStatus)
	item, ok := h.work.get("USDTUSD", "pr-exchange")
	require.True(t, ok)
	assert.True(t, dec("20").Equal(item.Volume))

	merchantQueued, err := h.toMerchant.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, merchantQueued, 1)
	assert.Equal(t, "pr-exchanged", merchantQueued[0].PaymentRequestID)
}

func TestReconciliation_LeavesQueuedWorkAlone(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	queueForMarket(t, h, "pr-1")
	queueForExchange(t, h, "pr-2", "10")
	queueForMerchant(t, h, "pr-3")
	h.store.age(time.Hour)

	report, err := h.reconciliation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconciliationReport{Scanned: 3, Waiting: 3}, report)

	depth, err := h.toMarket.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
	depth, err = h.toMerchant.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestReconciliation_ReplaysConfirmedTransfer(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.txs = map[string]*gateway.Transaction{
		"0xH": {Hash: "0xH", Destination: testMarketWallet, Fee: dec("0.5")},
	}
	h.seed("pr-confirmed", domain.StatusTransferringToMarket, func(r *models.PaymentRequest) { r.MarketTransferTransactionHash = "0xH" })
	h.seed("pr-pending", domain.StatusTransferringToMarket, func(r *models.PaymentRequest) { r.MarketTransferTransactionHash = "0xP" })
	h.store.age(time.Hour)

	report, err := h.reconciliation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, 1, report.Waiting)

	require.Len(t, h.bus.commands, 1)
	cmd, ok := h.bus.commands[0].(messaging.Exchange)
	require.True(t, ok)
	assert.Equal(t, "0xH", cmd.TransactionHash)
	assert.Equal(t, "0.5", cmd.TransactionFee.String())
}

func TestReconciliation_ReportsErroredAndSkipsFresh(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seed("pr-errored", domain.StatusExchangeQueued, func(r *models.PaymentRequest) {
		r.Error = domain.ErrorLowBalanceForExchange
	})
	h.store.age(time.Hour)
	h.seed("pr-fresh", domain.StatusNone, nil)

	report, err := h.reconciliation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconciliationReport{Scanned: 1, Errored: 1}, report)

	count, err := h.work.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, domain.StatusNone, h.store.mustGet(testMerchant, "pr-fresh").SettlementStatus)
}

func TestReconciliation_RequeuedSweptWalletIsNotSweptAgain(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	queueForMarket(t, h, "pr-1")

	h.store.failUpdates = errBoom
	require.Error(t, h.toMarketCoord.RunBatch(ctx))
	h.store.failUpdates = nil

	// the queued message is lost after the transfer went out
	_, err := h.toMarket.ProcessBatch(ctx, 10, func(context.Context, []models.TransferToMarketMessage) queue.Outcome {
		return queue.Success
	})
	require.NoError(t, err)
	h.store.age(time.Hour)

	report, err := h.reconciliation.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	require.NoError(t, h.toMarketCoord.RunBatch(ctx))

	assert.Len(t, h.chain.calls, 1)
	req := h.store.mustGet(testMerchant, "pr-1")
	assert.Equal(t, domain.StatusTransferringToMarket, req.SettlementStatus)
	assert.Equal(t, "0xH", req.MarketTransferTransactionHash)
}

func TestReconciliation_FilledExchangeIsNotTradedAgain(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.balances.balances["USDT"] = dec("100")
	queueForExchange(t, h, "pr-1", "99")

	h.store.failUpdates = errBoom
	require.Error(t, h.exchangeCoord.ExchangeOnce(ctx))
	h.store.failUpdates = nil

	item, ok := h.work.get("USDTUSD", "pr-1")
	require.True(t, ok)
	assert.True(t, item.HasFill())
	assert.Equal(t, "order-1", item.FilledOrderID)

	h.store.age(time.Hour)
	report, err := h.reconciliation.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repaired)

	require.NoError(t, h.exchangeCoord.ExchangeOnce(ctx))

	assert.Len(t, h.engine.calls, 1)
	req := h.store.mustGet(testMerchant, "pr-1")
	assert.Equal(t, domain.StatusExchanged, req.SettlementStatus)
	assert.Equal(t, "order-1", req.MarketOrderID)
	assert.Equal(t, "0.99", req.MarketPrice.String())
	_, ok = h.work.get("USDTUSD", "pr-1")
	assert.False(t, ok)
}
