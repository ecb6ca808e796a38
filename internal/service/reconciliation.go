package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/ayo6706/merchant-settlement/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultReconciliationGrace = 10 * time.Minute
	defaultReconciliationLimit = 500
	// queues are scanned in full when checking membership
	queueScanLimit = 10000
)

// pendingStatuses are the statuses that imply outstanding pipeline work.
var pendingStatuses = []domain.SettlementStatus{
	domain.StatusNone,
	domain.StatusTransferToMarketQueued,
	domain.StatusTransferringToMarket,
	domain.StatusTransferredToMarket,
	domain.StatusExchangeQueued,
	domain.StatusExchanged,
}

// ReconciliationService repairs requests whose status implies pending work
// that no queue holds, which happens when a status change was persisted but
// the follow-up enqueue or event was lost.
type ReconciliationService struct {
	store      PaymentRequestStore
	work       ExchangeWorkStore
	status     *StatusService
	toMarket   queue.BatchQueue[models.TransferToMarketMessage]
	toMerchant queue.BatchQueue[models.TransferToMerchantMessage]
	lookup     gateway.TransactionLookup
	commands   messaging.CommandSender
	grace      time.Duration
	limit      int
	now        func() time.Time
}

func NewReconciliationService(
	store PaymentRequestStore,
	work ExchangeWorkStore,
	status *StatusService,
	toMarket queue.BatchQueue[models.TransferToMarketMessage],
	toMerchant queue.BatchQueue[models.TransferToMerchantMessage],
	lookup gateway.TransactionLookup,
	commands messaging.CommandSender,
) *ReconciliationService {
	return &ReconciliationService{
		store:      store,
		work:       work,
		status:     status,
		toMarket:   toMarket,
		toMerchant: toMerchant,
		lookup:     lookup,
		commands:   commands,
		grace:      defaultReconciliationGrace,
		limit:      defaultReconciliationLimit,
		now:        time.Now,
	}
}

// WithGrace sets how long a request must sit unchanged before it is repaired.
func (s *ReconciliationService) WithGrace(d time.Duration) *ReconciliationService {
	if d > 0 {
		s.grace = d
	}
	return s
}

// ReconciliationReport summarises one sweep.
type ReconciliationReport struct {
	Scanned  int
	Repaired int
	Errored  int
	Waiting  int
}

// Run performs one sweep and logs the report.
func (s *ReconciliationService) Run(ctx context.Context) error {
	report, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("settlement reconciliation finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("repaired", report.Repaired),
		zap.Int("errored", report.Errored),
		zap.Int("waiting", report.Waiting),
	)
	return nil
}

func (s *ReconciliationService) Sweep(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport

	stale, err := s.store.FindStale(ctx, pendingStatuses, s.now().Add(-s.grace), s.limit)
	if err != nil {
		return report, fmt.Errorf("find stale payment requests: %w", err)
	}
	if len(stale) == 0 {
		return report, nil
	}

	marketQueued, err := s.queuedToMarket(ctx)
	if err != nil {
		return report, err
	}
	merchantQueued, err := s.queuedToMerchant(ctx)
	if err != nil {
		return report, err
	}

	var errs []error
	for i := range stale {
		req := &stale[i]
		report.Scanned++
		if req.HasError() {
			report.Errored++
			observability.IncrementReconciliation("errored")
			zap.L().Warn("stale payment request carries an error",
				zap.String("merchant_id", req.MerchantID),
				zap.String("payment_request_id", req.ID),
				zap.String("settlement_status", string(req.SettlementStatus)),
				zap.String("error", string(req.Error)),
			)
			continue
		}

		repaired, err := s.repair(ctx, req, marketQueued, merchantQueued)
		if err != nil && !errors.Is(err, ErrStageAlreadyPassed) {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", req.ID, err))
			continue
		}
		if repaired {
			report.Repaired++
			observability.IncrementReconciliation("repaired_" + string(req.SettlementStatus))
		} else {
			report.Waiting++
		}
	}
	return report, errors.Join(errs...)
}

func (s *ReconciliationService) repair(ctx context.Context, req *models.PaymentRequest, marketQueued, merchantQueued map[string]struct{}) (bool, error) {
	key := requestKey(req.MerchantID, req.ID)

	switch req.SettlementStatus {
	case domain.StatusNone:
		_, err := s.status.QueueTransferToMarket(ctx, req.MerchantID, req.ID)
		return err == nil, err

	case domain.StatusTransferToMarketQueued:
		if _, ok := marketQueued[key]; ok {
			return false, nil
		}
		return true, s.status.EnqueueTransferToMarket(ctx, req)

	case domain.StatusTransferringToMarket:
		if req.MarketTransferTransactionHash == "" {
			return false, nil
		}
		tx, err := s.lookup.GetTransaction(ctx, req.MarketTransferTransactionHash)
		if errors.Is(err, gateway.ErrTransactionNotFound) {
			// not confirmed yet
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, s.commands.Send(ctx, messaging.Exchange{
			TransactionHash: tx.Hash,
			TransactionFee:  tx.Fee,
		})

	case domain.StatusTransferredToMarket:
		_, err := s.status.QueueExchange(ctx, req.MerchantID, req.ID)
		return err == nil, err

	case domain.StatusExchangeQueued:
		exists, err := s.work.Exists(ctx, req.MerchantID, req.ID)
		if err != nil || exists {
			return false, err
		}
		return s.status.RequeueExchange(ctx, req)

	case domain.StatusExchanged:
		if _, ok := merchantQueued[key]; ok {
			return false, nil
		}
		_, err := s.status.QueueTransferToMerchant(ctx, req.MerchantID, req.ID)
		return err == nil, err
	}
	return false, nil
}

func (s *ReconciliationService) queuedToMarket(ctx context.Context) (map[string]struct{}, error) {
	items, err := s.toMarket.List(ctx, queueScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list transfer to market queue: %w", err)
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[requestKey(it.MerchantID, it.PaymentRequestID)] = struct{}{}
	}
	observability.SetQueueDepth("transfer_to_market", int64(len(items)))
	return set, nil
}

func (s *ReconciliationService) queuedToMerchant(ctx context.Context) (map[string]struct{}, error) {
	items, err := s.toMerchant.List(ctx, queueScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list transfer to merchant queue: %w", err)
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[requestKey(it.MerchantID, it.PaymentRequestID)] = struct{}{}
	}
	observability.SetQueueDepth("transfer_to_merchant", int64(len(items)))
	return set, nil
}

func requestKey(merchantID, id string) string {
	return merchantID + "/" + id
}
