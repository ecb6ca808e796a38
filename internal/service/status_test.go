package service

import (
	"context"
	"testing"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusService_CreateIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	req := &models.PaymentRequest{MerchantID: testMerchant, ID: "pr-1", PaidAmount: dec("10"), PaymentAssetID: "USDT", SettlementAssetID: "USD"}
	require.NoError(t, h.status.Create(ctx, req))

	again := &models.PaymentRequest{MerchantID: testMerchant, ID: "pr-1", PaidAmount: dec("99")}
	require.ErrorIs(t, h.status.Create(ctx, again), ErrStageAlreadyPassed)

	stored := h.store.mustGet(testMerchant, "pr-1")
	assert.Equal(t, domain.StatusNone, stored.SettlementStatus)
	assert.True(t, dec("10").Equal(stored.PaidAmount))
	assert.Equal(t, 1, h.bus.count(messaging.TypeSettlementCreated))
}

func TestStatusService_RepeatedAdvanceHasNoSideEffects(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seed("pr-1", domain.StatusNone, nil)

	_, err := h.status.QueueTransferToMarket(ctx, testMerchant, "pr-1")
	require.NoError(t, err)
	_, err = h.status.QueueTransferToMarket(ctx, testMerchant, "pr-1")
	require.ErrorIs(t, err, ErrStageAlreadyPassed)

	depth, err := h.toMarket.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
	assert.Equal(t, 1, h.bus.count(messaging.TypeSettlementTransferToMarketQueue))
}

func TestStatusService_AdvanceRequiresPreviousStage(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seed("pr-1", domain.StatusNone, nil)

	_, err := h.status.SetTransferringToMarket(ctx, testMerchant, "pr-1", "0xH", testMarketWallet)
	require.ErrorIs(t, err, ErrStageNotReached)

	stored := h.store.mustGet(testMerchant, "pr-1")
	assert.Equal(t, domain.StatusNone, stored.SettlementStatus)
	assert.Empty(t, stored.MarketTransferTransactionHash)
	assert.Empty(t, h.bus.eventTypes())
}

func TestStatusService_AdvanceClearsError(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seed("pr-1", domain.StatusTransferToMarketQueued, func(r *models.PaymentRequest) {
		r.Error = domain.ErrorUnknown
		r.ErrorDescription = "chain unavailable"
	})

	req, err := h.status.SetTransferringToMarket(ctx, testMerchant, "pr-1", "0xH", testMarketWallet)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTransferringToMarket, req.SettlementStatus)
	assert.Equal(t, "0xH", req.MarketTransferTransactionHash)
	assert.False(t, req.HasError())
	assert.Empty(t, req.ErrorDescription)
}

func TestStatusService_SetErrorKeepsStatus(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seed("pr-1", domain.StatusExchangeQueued, nil)

	req, err := h.status.SetError(ctx, testMerchant, "pr-1", domain.ErrorNoLiquidityForExchange, "no liquidity")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExchangeQueued, req.SettlementStatus)
	assert.Equal(t, domain.ErrorNoLiquidityForExchange, req.Error)
	assert.Equal(t, []string{messaging.TypeSettlementError}, h.bus.eventTypes())
}

func TestStatusService_QueueExchange(t *testing.T) {
	t.Run("creates work item", func(t *testing.T) {
		h := newHarness()
		ctx := context.Background()
		h.seed("pr-1", domain.StatusTransferredToMarket, func(r *models.PaymentRequest) {
			r.MarketAmount = dec("99")
		})

		req, err := h.status.QueueExchange(ctx, testMerchant, "pr-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExchangeQueued, req.SettlementStatus)

		item, ok := h.work.get("USDTUSD", "pr-1")
		require.True(t, ok)
		assert.Equal(t, domain.OrderActionSell, item.OrderAction)
		assert.True(t, dec("99").Equal(item.Volume))
		assert.Equal(t, int64(0), item.LastAttempt.Unix())

		_, err = h.status.QueueExchange(ctx, testMerchant, "pr-1")
		require.ErrorIs(t, err, ErrStageAlreadyPassed)
	})

	t.Run("same asset skips the engine", func(t *testing.T) {
		h := newHarness()
		ctx := context.Background()
		h.seed("pr-1", domain.StatusTransferredToMarket, func(r *models.PaymentRequest) {
			r.SettlementAssetID = "USDT"
			r.MarketAmount = dec("99")
		})

		req, err := h.status.QueueExchange(ctx, testMerchant, "pr-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExchanged, req.SettlementStatus)
		assert.True(t, dec("1").Equal(req.MarketPrice))

		count, err := h.work.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Equal(t, 1, h.bus.count(messaging.TypeSettlementExchanged))
	})
}

func TestStatusService_QueueTransferToMerchant(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seed("pr-1", domain.StatusExchanged, func(r *models.PaymentRequest) {
		r.MarketAmount = dec("99.123456")
		r.MarketPrice = dec("0.99")
	})

	msg, err := h.status.QueueTransferToMerchant(ctx, testMerchant, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, "98.13", msg.Amount.String())
	assert.Equal(t, testClient, msg.MerchantClientID)
	assert.Equal(t, "USD", msg.AssetID)

	// status is unchanged until the transfer executes
	assert.Equal(t, domain.StatusExchanged, h.store.mustGet(testMerchant, "pr-1").SettlementStatus)

	h.seed("pr-2", domain.StatusExchangeQueued, nil)
	_, err = h.status.QueueTransferToMerchant(ctx, testMerchant, "pr-2")
	require.ErrorIs(t, err, ErrStageNotReached)
}
