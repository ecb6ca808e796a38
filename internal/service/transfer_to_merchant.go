package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/ledger"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/ayo6706/merchant-settlement/internal/queue"
	"github.com/ayo6706/merchant-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var merchantTransferNamespace = uuid.MustParse("0c7f3d8e-2a61-4f4b-8f7a-3e5d1b9c6a20")

// TransferToMerchantCoordinator moves exchanged funds from the settlement
// account to each merchant, one queue item at a time.
type TransferToMerchantCoordinator struct {
	queue    queue.BatchQueue[models.TransferToMerchantMessage]
	store    PaymentRequestStore
	status   *StatusService
	balances gateway.BalanceService
	assets   gateway.AssetService
	ledger   *ledger.Ledger
}

func NewTransferToMerchantCoordinator(
	q queue.BatchQueue[models.TransferToMerchantMessage],
	store PaymentRequestStore,
	status *StatusService,
	balances gateway.BalanceService,
	assets gateway.AssetService,
	l *ledger.Ledger,
) *TransferToMerchantCoordinator {
	return &TransferToMerchantCoordinator{
		queue:    q,
		store:    store,
		status:   status,
		balances: balances,
		assets:   assets,
		ledger:   l,
	}
}

// MerchantTransferResult is the outcome of one queue item. Rotated marks a
// failed item that was moved to the tail instead of staying at the head.
type MerchantTransferResult struct {
	Empty   bool
	Rotated bool
	ok      bool
}

func (r MerchantTransferResult) IsSuccess() bool { return r.ok }

// RunOnce handles the head of the queue. The item is acknowledged iff the
// handler succeeds.
func (c *TransferToMerchantCoordinator) RunOnce(ctx context.Context) (MerchantTransferResult, error) {
	return c.runHead(ctx, false)
}

// Drain refreshes the ledger and tries every item queued at the start of
// the cycle once. Failed items are rotated to the tail so one stuck
// transfer never blocks the ones behind it.
func (c *TransferToMerchantCoordinator) Drain(ctx context.Context) error {
	if err := c.ledger.Refresh(ctx); err != nil {
		return err
	}
	pending, err := c.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("read transfer to merchant depth: %w", err)
	}
	for i := int64(0); i < pending; i++ {
		if ctx.Err() != nil {
			return nil
		}
		res, err := c.runHead(ctx, true)
		if err != nil {
			return err
		}
		if res.Empty {
			return nil
		}
		if !res.IsSuccess() && !res.Rotated {
			// the item could not be moved; it is still at the head
			return nil
		}
	}
	return nil
}

func (c *TransferToMerchantCoordinator) runHead(ctx context.Context, rotate bool) (MerchantTransferResult, error) {
	var result MerchantTransferResult
	_, err := c.queue.ProcessBatch(ctx, 1, func(ctx context.Context, msgs []models.TransferToMerchantMessage) queue.Outcome {
		if len(msgs) == 0 {
			result = MerchantTransferResult{Empty: true, ok: true}
			return result
		}
		result = MerchantTransferResult{ok: c.handle(ctx, msgs[0])}
		if result.ok || !rotate {
			return result
		}
		// re-enqueue before the head is acknowledged; a crash in between
		// leaves a duplicate, which the status check makes harmless
		if err := c.queue.Enqueue(ctx, msgs[0]); err != nil {
			zap.L().Error("failed to rotate merchant transfer",
				zap.String("payment_request_id", msgs[0].PaymentRequestID),
				zap.Error(err),
			)
			return result
		}
		result.Rotated = true
		return queue.Success
	})
	if err != nil {
		return MerchantTransferResult{}, fmt.Errorf("process transfer to merchant: %w", err)
	}
	return result, nil
}

func (c *TransferToMerchantCoordinator) handle(ctx context.Context, msg models.TransferToMerchantMessage) bool {
	logger := zap.L().With(
		zap.String("merchant_id", msg.MerchantID),
		zap.String("payment_request_id", msg.PaymentRequestID),
	)

	req, err := c.store.Get(ctx, msg.MerchantID, msg.PaymentRequestID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("dropping merchant transfer for unknown payment request")
		return true
	}
	if err != nil {
		logger.Error("failed to load payment request", zap.Error(err))
		return false
	}
	if req.SettlementStatus != domain.StatusExchanged {
		logger.Debug("skipping merchant transfer", zap.String("settlement_status", string(req.SettlementStatus)))
		return true
	}

	if !c.ledger.HasAtLeast(msg.AssetID, msg.Amount) {
		observability.IncrementLowBalance("transfer_to_merchant")
		desc := fmt.Sprintf("balance %s %s is lower than %s", c.ledger.Balance(msg.AssetID), msg.AssetID, msg.Amount)
		c.recordError(ctx, req, domain.ErrorLowBalanceForTransferToMerchant, desc)
		return false
	}

	asset, err := c.assets.GetAsset(ctx, msg.AssetID)
	if err != nil {
		logger.Error("failed to load settlement asset", zap.Error(err))
		return false
	}

	status, err := c.balances.Transfer(ctx, gateway.InternalTransfer{
		OperationID:   uuid.NewSHA1(merchantTransferNamespace, []byte(msg.MerchantID+"/"+msg.PaymentRequestID)).String(),
		FromAccountID: c.ledger.AccountID(),
		ToAccountID:   msg.MerchantClientID,
		AssetID:       msg.AssetID,
		Accuracy:      asset.Accuracy,
		Amount:        msg.Amount,
	})
	if err != nil {
		c.recordError(ctx, req, domain.ErrorUnknown, err.Error())
		return false
	}

	switch status {
	case gateway.TransferOk:
		if _, _, err := c.ledger.Debit(msg.AssetID, msg.Amount); err != nil {
			logger.Error("failed to debit ledger", zap.Error(err))
		}
	case gateway.TransferDuplicate:
		// an earlier attempt moved the funds but did not record it
		logger.Info("merchant transfer already applied")
	case gateway.TransferLowBalance:
		observability.IncrementLowBalance("transfer_to_merchant")
		c.recordError(ctx, req, domain.ErrorLowBalanceForTransferToMerchant, "balance service reported low balance")
		return false
	default:
		c.recordError(ctx, req, domain.ErrorUnknown, "internal transfer rejected: "+string(status))
		return false
	}

	if _, err := c.status.SetTransferredToMerchant(ctx, msg.MerchantID, msg.PaymentRequestID, msg.Amount); err != nil {
		if errors.Is(err, ErrStageAlreadyPassed) {
			return true
		}
		logger.Error("failed to mark request as transferred to merchant", zap.Error(err))
		return false
	}
	return true
}

// recordError skips a kind the request already carries, so a transfer
// waiting on funds does not publish the same error every cycle.
func (c *TransferToMerchantCoordinator) recordError(ctx context.Context, req *models.PaymentRequest, kind domain.ProcessingError, desc string) {
	if req.Error == kind {
		return
	}
	if _, err := c.status.SetError(ctx, req.MerchantID, req.ID, kind, desc); err != nil {
		zap.L().Error("failed to record merchant transfer error",
			zap.String("payment_request_id", req.ID),
			zap.Error(err),
		)
	}
}
