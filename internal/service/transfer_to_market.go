package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/ayo6706/merchant-settlement/internal/queue"
	"github.com/ayo6706/merchant-settlement/internal/repository"
	"go.uber.org/zap"
)

var ErrTransferBatchFailed = errors.New("transfer to market batch failed")

const defaultMaxTransfersPerTransaction = 20

// TransferToMarketCoordinator drains the to-market queue in batches and
// submits one combined blockchain transfer per batch.
type TransferToMarketCoordinator struct {
	queue        queue.BatchQueue[models.TransferToMarketMessage]
	store        PaymentRequestStore
	status       *StatusService
	chain        gateway.BlockchainClient
	marketWallet string
	maxPerTx     int
}

func NewTransferToMarketCoordinator(
	q queue.BatchQueue[models.TransferToMarketMessage],
	store PaymentRequestStore,
	status *StatusService,
	chain gateway.BlockchainClient,
	marketWallet string,
) *TransferToMarketCoordinator {
	return &TransferToMarketCoordinator{
		queue:        q,
		store:        store,
		status:       status,
		chain:        chain,
		marketWallet: marketWallet,
		maxPerTx:     defaultMaxTransfersPerTransaction,
	}
}

// WithMaxTransfersPerTransaction caps how many wallets one transfer combines.
func (c *TransferToMarketCoordinator) WithMaxTransfersPerTransaction(n int) *TransferToMarketCoordinator {
	if n > 0 {
		c.maxPerTx = n
	}
	return c
}

// MarketTransferResult is the outcome of one submitted batch.
type MarketTransferResult struct {
	TransactionHash string
	Submitted       int
	Empty           bool
	ok              bool
}

func (r MarketTransferResult) IsSuccess() bool { return r.ok }

// RunBatch processes batches until the queue is empty or a batch fails.
// A canceled context stops the loop between batches.
func (c *TransferToMarketCoordinator) RunBatch(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		var result MarketTransferResult
		out, err := c.queue.ProcessBatch(ctx, c.maxPerTx, func(ctx context.Context, msgs []models.TransferToMarketMessage) queue.Outcome {
			result = c.submit(ctx, msgs)
			return result
		})
		if err != nil {
			return fmt.Errorf("process transfer to market batch: %w", err)
		}
		if !out.IsSuccess() {
			return ErrTransferBatchFailed
		}
		if result.Empty {
			return nil
		}
	}
}

func (c *TransferToMarketCoordinator) submit(ctx context.Context, msgs []models.TransferToMarketMessage) MarketTransferResult {
	if len(msgs) == 0 {
		return MarketTransferResult{Empty: true, ok: true}
	}

	pending, err := c.pending(ctx, msgs)
	if err != nil {
		zap.L().Error("failed to load batch requests", zap.Error(err))
		return MarketTransferResult{}
	}
	if len(pending) == 0 {
		// every message was already handled; acknowledge the stale batch
		return MarketTransferResult{ok: true}
	}

	sources := make([]gateway.TransferSource, 0, len(pending))
	for _, msg := range pending {
		sources = append(sources, gateway.TransferSource{
			Address: msg.WalletAddress,
			AssetID: msg.AssetID,
			Amount:  msg.Amount,
		})
	}

	hash, err := c.chain.MultiTransfer(ctx, sources, c.marketWallet)
	if err != nil {
		zap.L().Error("market transfer failed",
			zap.Int("batch_size", len(pending)),
			zap.Error(err),
		)
		for _, msg := range pending {
			if _, setErr := c.status.SetError(ctx, msg.MerchantID, msg.PaymentRequestID, domain.ErrorUnknown, err.Error()); setErr != nil {
				zap.L().Error("failed to record market transfer error",
					zap.String("payment_request_id", msg.PaymentRequestID),
					zap.Error(setErr),
				)
			}
		}
		return MarketTransferResult{}
	}

	observability.ObserveBatchSize(len(pending))
	zap.L().Info("market transfer submitted",
		zap.String("tx_hash", hash),
		zap.Int("batch_size", len(pending)),
	)

	// The batch is acknowledged only once every request records the hash.
	// Otherwise it stays queued and the next pass finds the transfer on
	// chain through pending instead of sweeping the wallets again.
	recorded := true
	for _, msg := range pending {
		_, err := c.status.SetTransferringToMarket(ctx, msg.MerchantID, msg.PaymentRequestID, hash, c.marketWallet)
		if err != nil && !errors.Is(err, ErrStageAlreadyPassed) {
			recorded = false
			zap.L().Error("failed to mark request as transferring to market",
				zap.String("merchant_id", msg.MerchantID),
				zap.String("payment_request_id", msg.PaymentRequestID),
				zap.String("tx_hash", hash),
				zap.Error(err),
			)
		}
	}
	return MarketTransferResult{TransactionHash: hash, Submitted: len(pending), ok: recorded}
}

// pending drops messages whose request is gone, already past the queued
// stage, or whose wallet was already swept by an earlier transfer.
func (c *TransferToMarketCoordinator) pending(ctx context.Context, msgs []models.TransferToMarketMessage) ([]models.TransferToMarketMessage, error) {
	out := make([]models.TransferToMarketMessage, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		key := requestKey(msg.MerchantID, msg.PaymentRequestID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		req, err := c.store.Get(ctx, msg.MerchantID, msg.PaymentRequestID)
		if errors.Is(err, repository.ErrNotFound) {
			zap.L().Warn("dropping transfer for unknown payment request", zap.String("payment_request_id", msg.PaymentRequestID))
			continue
		}
		if err != nil {
			return nil, err
		}
		if req.SettlementStatus != domain.StatusTransferToMarketQueued {
			zap.L().Debug("skipping transfer to market",
				zap.String("payment_request_id", msg.PaymentRequestID),
				zap.String("settlement_status", string(req.SettlementStatus)),
			)
			continue
		}

		swept, err := c.alreadySwept(ctx, msg)
		if err != nil {
			return nil, err
		}
		if swept {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// alreadySwept looks for an earlier transfer of the wallet into the market
// wallet whose hash never reached the request, and records it.
func (c *TransferToMarketCoordinator) alreadySwept(ctx context.Context, msg models.TransferToMarketMessage) (bool, error) {
	tx, err := c.chain.FindTransfer(ctx, msg.WalletAddress, c.marketWallet)
	if errors.Is(err, gateway.ErrTransactionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up transfers from %s: %w", msg.WalletAddress, err)
	}

	zap.L().Warn("wallet already swept, recording existing transfer",
		zap.String("payment_request_id", msg.PaymentRequestID),
		zap.String("tx_hash", tx.Hash),
	)
	_, err = c.status.SetTransferringToMarket(ctx, msg.MerchantID, msg.PaymentRequestID, tx.Hash, c.marketWallet)
	if err != nil && !errors.Is(err, ErrStageAlreadyPassed) {
		return false, err
	}
	return true, nil
}
