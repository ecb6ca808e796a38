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
	"github.com/ayo6706/merchant-settlement/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrStageAlreadyPassed = errors.New("settlement stage already passed")
	ErrStageNotReached    = errors.New("settlement stage not reached")
)

// StatusService is the only component that changes a payment request status.
// Every change is persisted first, then published, then used to enqueue the
// next stage's work.
type StatusService struct {
	store      PaymentRequestStore
	work       ExchangeWorkStore
	assets     gateway.AssetService
	events     messaging.EventPublisher
	projection messaging.ProjectionSink
	toMarket   queue.BatchQueue[models.TransferToMarketMessage]
	toMerchant queue.BatchQueue[models.TransferToMerchantMessage]
}

func NewStatusService(
	store PaymentRequestStore,
	work ExchangeWorkStore,
	assets gateway.AssetService,
	events messaging.EventPublisher,
	projection messaging.ProjectionSink,
	toMarket queue.BatchQueue[models.TransferToMarketMessage],
	toMerchant queue.BatchQueue[models.TransferToMerchantMessage],
) *StatusService {
	return &StatusService{
		store:      store,
		work:       work,
		assets:     assets,
		events:     events,
		projection: projection,
		toMarket:   toMarket,
		toMerchant: toMerchant,
	}
}

// Create persists a new request with status None. A request that already
// exists is left untouched and reported with ErrStageAlreadyPassed.
func (s *StatusService) Create(ctx context.Context, req *models.PaymentRequest) error {
	req.SettlementStatus = domain.StatusNone
	req.Error = domain.ErrorNone
	if err := s.store.Insert(ctx, req); err != nil {
		if errors.Is(err, repository.ErrPaymentRequestExists) {
			return ErrStageAlreadyPassed
		}
		return err
	}
	observability.IncrementStatusTransition(string(domain.StatusNone))
	return s.publish(ctx, req, messaging.SettlementCreated{
		MerchantID:       req.MerchantID,
		PaymentRequestID: req.ID,
	})
}

func (s *StatusService) QueueTransferToMarket(ctx context.Context, merchantID, id string) (*models.PaymentRequest, error) {
	req, err := s.advance(ctx, merchantID, id, domain.StatusTransferToMarketQueued, models.PaymentRequestPatch{})
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, req, messaging.SettlementTransferToMarketQueued{
		MerchantID:       req.MerchantID,
		PaymentRequestID: req.ID,
	}); err != nil {
		return req, err
	}
	return req, s.EnqueueTransferToMarket(ctx, req)
}

// EnqueueTransferToMarket puts the to-market payload for req on the queue.
func (s *StatusService) EnqueueTransferToMarket(ctx context.Context, req *models.PaymentRequest) error {
	msg := models.TransferToMarketMessage{
		MerchantID:       req.MerchantID,
		PaymentRequestID: req.ID,
		WalletAddress:    req.WalletAddress,
		AssetID:          req.PaymentAssetID,
		Amount:           req.PaidAmount,
	}
	if err := s.toMarket.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue transfer to market for %s: %w", req.ID, err)
	}
	return nil
}

func (s *StatusService) SetTransferringToMarket(ctx context.Context, merchantID, id, txHash, destination string) (*models.PaymentRequest, error) {
	req, err := s.advance(ctx, merchantID, id, domain.StatusTransferringToMarket, models.PaymentRequestPatch{
		MarketTransferTransactionHash: &txHash,
	})
	if err != nil {
		return nil, err
	}
	return req, s.publish(ctx, req, messaging.SettlementTransferringToMarket{
		MerchantID:         req.MerchantID,
		PaymentRequestID:   req.ID,
		TransactionHash:    txHash,
		DestinationAddress: destination,
		Amount:             req.PaidAmount,
		AssetID:            req.PaymentAssetID,
	})
}

// SetTransferredToMarket records the fee share and the net amount that
// reached the market wallet. It has no bus event of its own.
func (s *StatusService) SetTransferredToMarket(ctx context.Context, merchantID, id string, feeShare, marketAmount decimal.Decimal) (*models.PaymentRequest, error) {
	req, err := s.advance(ctx, merchantID, id, domain.StatusTransferredToMarket, models.PaymentRequestPatch{
		MarketTransferFee: &feeShare,
		MarketAmount:      &marketAmount,
	})
	if err != nil {
		return nil, err
	}
	return req, s.publish(ctx, req, nil)
}

// QueueExchange moves a request to ExchangeQueued and creates its exchange
// work item. When the payment and settlement assets are the same the engine
// is skipped and the request goes straight to Exchanged at price 1.
func (s *StatusService) QueueExchange(ctx context.Context, merchantID, id string) (*models.PaymentRequest, error) {
	current, err := s.store.Get(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	if current.SettlementStatus.HasReached(domain.StatusExchangeQueued) {
		return nil, ErrStageAlreadyPassed
	}

	var item *models.ExchangeWorkItem
	if current.PaymentAssetID != current.SettlementAssetID {
		built, err := s.buildWorkItem(ctx, current)
		if err != nil {
			return nil, err
		}
		item = &built
	}

	req, err := s.advance(ctx, merchantID, id, domain.StatusExchangeQueued, models.PaymentRequestPatch{})
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, req, messaging.SettlementExchangeQueued{
		MerchantID:       req.MerchantID,
		PaymentRequestID: req.ID,
		TransactionHash:  req.MarketTransferTransactionHash,
		TransactionFee:   req.MarketTransferFee,
		MarketAmount:     req.MarketAmount,
		AssetID:          req.PaymentAssetID,
	}); err != nil {
		return req, err
	}

	if item == nil {
		return s.SetExchanged(ctx, merchantID, id, decimal.NewFromInt(1), "")
	}
	if _, err := s.work.Add(ctx, *item); err != nil {
		return req, fmt.Errorf("failed to add exchange work item for %s: %w", id, err)
	}
	return req, nil
}

// RequeueExchange recreates the work item of a request stuck in ExchangeQueued.
func (s *StatusService) RequeueExchange(ctx context.Context, req *models.PaymentRequest) (bool, error) {
	if req.SettlementStatus != domain.StatusExchangeQueued {
		return false, ErrStageNotReached
	}
	item, err := s.buildWorkItem(ctx, req)
	if err != nil {
		return false, err
	}
	return s.work.Add(ctx, item)
}

func (s *StatusService) buildWorkItem(ctx context.Context, req *models.PaymentRequest) (models.ExchangeWorkItem, error) {
	pair, err := s.assets.FindAssetPair(ctx, req.PaymentAssetID, req.SettlementAssetID)
	if err != nil {
		return models.ExchangeWorkItem{}, fmt.Errorf("failed to resolve asset pair for %s: %w", req.ID, err)
	}
	return models.ExchangeWorkItem{
		AssetPairID:      pair.ID,
		PaymentRequestID: req.ID,
		MerchantID:       req.MerchantID,
		OrderAction:      orderAction(pair, req.PaymentAssetID),
		Volume:           req.MarketAmount,
		// eligible on the next exchange cycle
		LastAttempt: time.Unix(0, 0).UTC(),
	}, nil
}

func (s *StatusService) SetExchanged(ctx context.Context, merchantID, id string, price decimal.Decimal, orderID string) (*models.PaymentRequest, error) {
	req, err := s.advance(ctx, merchantID, id, domain.StatusExchanged, models.PaymentRequestPatch{
		MarketPrice:   &price,
		MarketOrderID: &orderID,
	})
	if err != nil {
		return nil, err
	}
	return req, s.publish(ctx, req, messaging.SettlementExchanged{
		MerchantID:       req.MerchantID,
		PaymentRequestID: req.ID,
		MarketAmount:     req.MarketAmount,
		MarketPrice:      req.MarketPrice,
		MarketOrderID:    req.MarketOrderID,
	})
}

// QueueTransferToMerchant enqueues the merchant transfer of an exchanged
// request. The status itself does not change.
func (s *StatusService) QueueTransferToMerchant(ctx context.Context, merchantID, id string) (*models.TransferToMerchantMessage, error) {
	req, err := s.store.Get(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	if req.SettlementStatus.HasPassed(domain.StatusExchanged) {
		return nil, ErrStageAlreadyPassed
	}
	if req.SettlementStatus != domain.StatusExchanged {
		return nil, fmt.Errorf("%w: %s is %s", ErrStageNotReached, id, req.SettlementStatus)
	}

	asset, err := s.assets.GetAsset(ctx, req.SettlementAssetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement asset %s: %w", req.SettlementAssetID, err)
	}

	msg := models.TransferToMerchantMessage{
		MerchantID:       req.MerchantID,
		PaymentRequestID: req.ID,
		MerchantClientID: req.MerchantClientID,
		AssetID:          req.SettlementAssetID,
		Amount:           domain.RoundAmount(domain.Convert(req.MarketAmount, req.MarketPrice), asset.Accuracy),
	}
	if err := s.toMerchant.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue transfer to merchant for %s: %w", id, err)
	}
	return &msg, nil
}

func (s *StatusService) SetTransferredToMerchant(ctx context.Context, merchantID, id string, amount decimal.Decimal) (*models.PaymentRequest, error) {
	req, err := s.advance(ctx, merchantID, id, domain.StatusTransferredToMerchant, models.PaymentRequestPatch{
		TransferredAmount: &amount,
	})
	if err != nil {
		return nil, err
	}
	return req, s.publish(ctx, req, messaging.SettlementTransferredToMerchant{
		MerchantID:         req.MerchantID,
		PaymentRequestID:   req.ID,
		TransferredAmount:  amount,
		TransferredAssetID: req.SettlementAssetID,
	})
}

// SetError attaches kind to the request without touching its status and
// publishes SettlementError.
func (s *StatusService) SetError(ctx context.Context, merchantID, id string, kind domain.ProcessingError, description string) (*models.PaymentRequest, error) {
	req, err := s.store.Update(ctx, merchantID, id, models.PaymentRequestPatch{
		Error:            &kind,
		ErrorDescription: &description,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to attach %s to %s: %w", kind, id, err)
	}
	observability.IncrementProcessingError(string(kind))
	zap.L().Warn("settlement processing error",
		zap.String("merchant_id", merchantID),
		zap.String("payment_request_id", id),
		zap.String("error", string(kind)),
		zap.String("description", description),
	)
	return req, s.publish(ctx, req, messaging.SettlementError{
		MerchantID:       merchantID,
		PaymentRequestID: id,
		Error:            string(kind),
		ErrorDescription: description,
	})
}

// advance performs the guarded merge from the stage directly before next.
func (s *StatusService) advance(ctx context.Context, merchantID, id string, next domain.SettlementStatus, patch models.PaymentRequestPatch) (*models.PaymentRequest, error) {
	prev, ok := domain.Previous(next)
	if !ok {
		return nil, fmt.Errorf("no stage leads to %s", next)
	}
	patch.SettlementStatus = &next
	patch = patch.ClearError()

	req, err := s.store.Update(ctx, merchantID, id, patch, []domain.SettlementStatus{prev})
	if err == nil {
		observability.IncrementStatusTransition(string(next))
		zap.L().Info("settlement status changed",
			zap.String("merchant_id", merchantID),
			zap.String("payment_request_id", id),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
		)
		return req, nil
	}
	if errors.Is(err, repository.ErrStatusConflict) && req != nil {
		if req.SettlementStatus.HasReached(next) {
			return nil, ErrStageAlreadyPassed
		}
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrStageNotReached, id, req.SettlementStatus, prev)
	}
	return nil, err
}

// publish emits evt (when not nil) and the projection snapshot of req.
func (s *StatusService) publish(ctx context.Context, req *models.PaymentRequest, evt messaging.Event) error {
	if err := s.projection.Write(ctx, *req); err != nil {
		zap.L().Error("failed to write payment request projection",
			zap.String("payment_request_id", req.ID),
			zap.Error(err),
		)
	}
	if evt == nil {
		return nil
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", evt.EventType(), req.ID, err)
	}
	return nil
}

func orderAction(pair gateway.AssetPair, paymentAssetID string) string {
	if pair.BaseAssetID == paymentAssetID {
		return domain.OrderActionSell
	}
	return domain.OrderActionBuy
}
