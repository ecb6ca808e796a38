package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/ledger"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/ayo6706/merchant-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultExchangeAttemptInterval = time.Minute

// marketOrderNamespace derives stable market order ids, so an order replayed
// for the same payment request carries the id the engine already filled.
var marketOrderNamespace = uuid.MustParse("5b8e7a52-4b7e-4c1c-9d0e-6f2a9c0b1d33")

// ExchangeCoordinator executes pending exchanges against the matching engine.
type ExchangeCoordinator struct {
	work            ExchangeWorkStore
	store           PaymentRequestStore
	status          *StatusService
	engine          gateway.MatchingEngine
	ledger          *ledger.Ledger
	attemptInterval time.Duration
	now             func() time.Time
}

func NewExchangeCoordinator(
	work ExchangeWorkStore,
	store PaymentRequestStore,
	status *StatusService,
	engine gateway.MatchingEngine,
	l *ledger.Ledger,
) *ExchangeCoordinator {
	return &ExchangeCoordinator{
		work:            work,
		store:           store,
		status:          status,
		engine:          engine,
		ledger:          l,
		attemptInterval: defaultExchangeAttemptInterval,
		now:             time.Now,
	}
}

// WithAttemptInterval sets how long a retryable item waits before its next attempt.
func (c *ExchangeCoordinator) WithAttemptInterval(d time.Duration) *ExchangeCoordinator {
	if d > 0 {
		c.attemptInterval = d
	}
	return c
}

// ExchangeOutcome classifies one attempt.
type ExchangeOutcome string

const (
	OutcomeExchanged  ExchangeOutcome = "exchanged"
	OutcomeRetry      ExchangeOutcome = "retry"
	OutcomeLowBalance ExchangeOutcome = "low_balance"
	OutcomeRejected   ExchangeOutcome = "rejected"
	OutcomeStale      ExchangeOutcome = "stale"
)

// ExchangeOnce refreshes the ledger and drains every currently eligible item,
// oldest attempt first.
func (c *ExchangeCoordinator) ExchangeOnce(ctx context.Context) error {
	if err := c.ledger.Refresh(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		item, ok, err := c.work.NextEligible(ctx, c.now().Add(-c.attemptInterval))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		outcome, err := c.process(ctx, item)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", item.PaymentRequestID, err)
		}
		observability.IncrementExchangeOutcome(string(outcome))
	}
}

func (c *ExchangeCoordinator) process(ctx context.Context, item models.ExchangeWorkItem) (ExchangeOutcome, error) {
	req, err := c.store.Get(ctx, item.MerchantID, item.PaymentRequestID)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeStale, c.work.Delete(ctx, item.AssetPairID, item.PaymentRequestID)
	}
	if err != nil {
		return "", err
	}
	if req.SettlementStatus != domain.StatusExchangeQueued {
		return OutcomeStale, c.work.Delete(ctx, item.AssetPairID, item.PaymentRequestID)
	}

	if item.HasFill() {
		return OutcomeExchanged, c.complete(ctx, item, item.FilledPrice, item.FilledOrderID)
	}

	source, dest := req.PaymentAssetID, req.SettlementAssetID
	if !c.ledger.HasAtLeast(source, item.Volume) {
		observability.IncrementLowBalance("exchange")
		desc := fmt.Sprintf("balance %s %s is lower than volume %s", c.ledger.Balance(source), source, item.Volume)
		zap.L().Warn("dropping exchange on low balance",
			zap.String("payment_request_id", item.PaymentRequestID),
			zap.String("asset_pair_id", item.AssetPairID),
			zap.String("detail", desc),
		)
		c.recordError(ctx, item, domain.ErrorLowBalanceForExchange, desc)
		return OutcomeLowBalance, c.work.Delete(ctx, item.AssetPairID, item.PaymentRequestID)
	}

	attemptAt := c.now()
	resp, err := c.engine.PlaceMarketOrder(ctx, gateway.MarketOrderRequest{
		ID:          uuid.NewSHA1(marketOrderNamespace, []byte(item.MerchantID+"/"+item.PaymentRequestID)).String(),
		ClientID:    c.ledger.AccountID(),
		AssetPairID: item.AssetPairID,
		OrderAction: item.OrderAction,
		Volume:      item.Volume,
		Straight:    item.OrderAction == domain.OrderActionSell,
	})
	if err != nil || resp == nil {
		desc := "matching engine did not respond"
		if err != nil {
			desc = err.Error()
		}
		return c.retry(ctx, item, attemptAt, domain.ErrorUnknown, desc)
	}

	switch resp.Status {
	case gateway.MarketOrderOk:
		return OutcomeExchanged, c.finalize(ctx, item, source, dest, resp)
	case gateway.MarketOrderNoLiquidity:
		return c.retry(ctx, item, attemptAt, domain.ErrorNoLiquidityForExchange, "no liquidity for "+item.AssetPairID)
	case gateway.MarketOrderLeadToNegativeSpread:
		return c.retry(ctx, item, attemptAt, domain.ErrorExchangeLeadToNegativeSpread, "order leads to negative spread on "+item.AssetPairID)
	case gateway.MarketOrderRuntime:
		return c.retry(ctx, item, attemptAt, domain.ErrorUnknown, "matching engine runtime error")
	default:
		c.recordError(ctx, item, domain.ErrorUnknown, "matching engine rejected order: "+string(resp.Status))
		return OutcomeRejected, c.work.Delete(ctx, item.AssetPairID, item.PaymentRequestID)
	}
}

func (c *ExchangeCoordinator) finalize(ctx context.Context, item models.ExchangeWorkItem, source, dest string, resp *gateway.MarketOrderResponse) error {
	// The fill is stored before anything else so no later pass, and no
	// reconciliation requeue, can place the order a second time.
	if err := c.work.RecordFill(ctx, item.AssetPairID, item.PaymentRequestID, resp.OrderID, resp.Price); err != nil {
		return fmt.Errorf("record fill of order %s: %w", resp.OrderID, err)
	}

	if _, _, err := c.ledger.Debit(source, item.Volume); err != nil {
		return err
	}
	if received := domain.Convert(item.Volume, resp.Price); received.IsPositive() {
		if _, err := c.ledger.Credit(dest, received); err != nil {
			return err
		}
	}
	return c.complete(ctx, item, resp.Price, resp.OrderID)
}

// complete marks the request exchanged and only then drops the work item.
// When the status update fails the filled item stays for the next pass.
func (c *ExchangeCoordinator) complete(ctx context.Context, item models.ExchangeWorkItem, price decimal.Decimal, orderID string) error {
	_, err := c.status.SetExchanged(ctx, item.MerchantID, item.PaymentRequestID, price, orderID)
	if err != nil && !errors.Is(err, ErrStageAlreadyPassed) {
		zap.L().Error("exchange filled but status update failed",
			zap.String("merchant_id", item.MerchantID),
			zap.String("payment_request_id", item.PaymentRequestID),
			zap.String("asset_pair_id", item.AssetPairID),
			zap.String("market_order_id", orderID),
			zap.Error(err),
		)
		return fmt.Errorf("mark exchanged: %w", err)
	}
	return c.work.Delete(ctx, item.AssetPairID, item.PaymentRequestID)
}

func (c *ExchangeCoordinator) retry(ctx context.Context, item models.ExchangeWorkItem, at time.Time, kind domain.ProcessingError, desc string) (ExchangeOutcome, error) {
	if err := c.work.Touch(ctx, item.AssetPairID, item.PaymentRequestID, at); err != nil {
		return "", err
	}
	c.recordError(ctx, item, kind, desc)
	return OutcomeRetry, nil
}

func (c *ExchangeCoordinator) recordError(ctx context.Context, item models.ExchangeWorkItem, kind domain.ProcessingError, desc string) {
	if _, err := c.status.SetError(ctx, item.MerchantID, item.PaymentRequestID, kind, desc); err != nil {
		zap.L().Error("failed to record exchange error",
			zap.String("payment_request_id", item.PaymentRequestID),
			zap.String("asset_pair_id", item.AssetPairID),
			zap.Error(err),
		)
	}
}
