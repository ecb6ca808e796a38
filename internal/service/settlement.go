package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/gateway"
	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementRules are the validation rules applied before a settlement starts.
type SettlementRules struct {
	PaymentAssets    []string
	SettlementAssets []string
	// MinAmounts is the smallest paid amount accepted per payment asset.
	MinAmounts map[string]decimal.Decimal
}

// recordedError marks an error that has already been attached to the
// payment request, so the command dispatcher does not overwrite it.
type recordedError struct {
	kind domain.ProcessingError
	err  error
}

func (e *recordedError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *recordedError) Unwrap() error { return e.err }

// SettlementService handles the settlement commands.
type SettlementService struct {
	status    *StatusService
	store     PaymentRequestStore
	assets    gateway.AssetService
	merchants gateway.MerchantDirectory
	lookup    gateway.TransactionLookup
	events    messaging.EventPublisher
	rules     SettlementRules
	validate  *validator.Validate
}

func NewSettlementService(
	status *StatusService,
	store PaymentRequestStore,
	assets gateway.AssetService,
	merchants gateway.MerchantDirectory,
	lookup gateway.TransactionLookup,
	events messaging.EventPublisher,
	rules SettlementRules,
) *SettlementService {
	return &SettlementService{
		status:    status,
		store:     store,
		assets:    assets,
		merchants: merchants,
		lookup:    lookup,
		events:    events,
		rules:     rules,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HandleCommand dispatches a bus command. Unexpected failures are attached
// to the payment request as Unknown and returned so the bus redelivers.
func (s *SettlementService) HandleCommand(ctx context.Context, cmd messaging.Command) error {
	var merchantID, id string
	var err error

	switch c := cmd.(type) {
	case messaging.CreateSettlement:
		merchantID, id = c.MerchantID, c.PaymentRequestID
		err = s.CreateSettlement(ctx, c)
	case messaging.TransferToMarket:
		merchantID, id = c.MerchantID, c.PaymentRequestID
		err = s.TransferToMarket(ctx, c)
	case messaging.Exchange:
		err = s.Exchange(ctx, c)
	case messaging.TransferToMerchant:
		merchantID, id = c.MerchantID, c.PaymentRequestID
		err = s.TransferToMerchant(ctx, c)
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}

	if err == nil || errors.Is(err, ErrStageAlreadyPassed) {
		return nil
	}

	zap.L().Error("settlement command failed",
		zap.String("command", cmd.CommandType()),
		zap.String("merchant_id", merchantID),
		zap.String("payment_request_id", id),
		zap.Error(err),
	)

	var recorded *recordedError
	if id != "" && !errors.As(err, &recorded) {
		if _, setErr := s.status.SetError(ctx, merchantID, id, domain.ErrorUnknown, err.Error()); setErr != nil {
			zap.L().Error("failed to record command error", zap.String("payment_request_id", id), zap.Error(setErr))
		}
	}
	return err
}

// CreateSettlement validates the command and persists the request with
// status None. Rejections publish SettlementCreated with IsError set.
func (s *SettlementService) CreateSettlement(ctx context.Context, cmd messaging.CreateSettlement) error {
	if reason := s.reject(cmd); reason != "" {
		return s.publishRejection(ctx, cmd, reason)
	}

	merchant, err := s.merchants.GetMerchant(ctx, cmd.MerchantID)
	if errors.Is(err, gateway.ErrMerchantNotFound) {
		return s.publishRejection(ctx, cmd, fmt.Sprintf("%s: %s", domain.ErrorMerchantNotFound, cmd.MerchantID))
	}
	if err != nil {
		return fmt.Errorf("failed to load merchant %s: %w", cmd.MerchantID, err)
	}

	req := &models.PaymentRequest{
		MerchantID:        cmd.MerchantID,
		ID:                cmd.PaymentRequestID,
		OrderID:           cmd.OrderID,
		Amount:            cmd.Amount,
		PaidAmount:        cmd.PaidAmount,
		PaidDate:          cmd.PaidDate,
		PaymentAssetID:    cmd.PaymentAssetID,
		SettlementAssetID: cmd.SettlementAssetID,
		DueDate:           cmd.DueDate,
		MarkupPercent:     cmd.MarkupPercent,
		MarkupPips:        cmd.MarkupPips,
		MarkupFixedFee:    cmd.MarkupFixedFee,
		WalletAddress:     cmd.WalletAddress,
		MerchantClientID:  merchant.ClientID,
	}
	return s.status.Create(ctx, req)
}

func (s *SettlementService) reject(cmd messaging.CreateSettlement) string {
	if err := s.validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return "missing required fields: " + strings.Join(fields, ", ")
		}
		return err.Error()
	}
	if !slices.Contains(s.rules.PaymentAssets, cmd.PaymentAssetID) {
		return fmt.Sprintf("payment asset %s is not configured", cmd.PaymentAssetID)
	}
	if !slices.Contains(s.rules.SettlementAssets, cmd.SettlementAssetID) {
		return fmt.Sprintf("settlement asset %s is not configured", cmd.SettlementAssetID)
	}
	if !cmd.PaidAmount.IsPositive() {
		return "paid amount must be positive"
	}
	if minAmount, ok := s.rules.MinAmounts[cmd.PaymentAssetID]; ok && cmd.PaidAmount.LessThan(minAmount) {
		return fmt.Sprintf("paid amount %s is below the minimum %s %s", cmd.PaidAmount, minAmount, cmd.PaymentAssetID)
	}
	return ""
}

func (s *SettlementService) publishRejection(ctx context.Context, cmd messaging.CreateSettlement, reason string) error {
	zap.L().Warn("settlement rejected",
		zap.String("merchant_id", cmd.MerchantID),
		zap.String("payment_request_id", cmd.PaymentRequestID),
		zap.String("reason", reason),
	)
	return s.events.Publish(ctx, messaging.SettlementCreated{
		MerchantID:       cmd.MerchantID,
		PaymentRequestID: cmd.PaymentRequestID,
		IsError:          true,
		ErrorDescription: reason,
	})
}

func (s *SettlementService) TransferToMarket(ctx context.Context, cmd messaging.TransferToMarket) error {
	_, err := s.status.QueueTransferToMarket(ctx, cmd.MerchantID, cmd.PaymentRequestID)
	return err
}

// Exchange handles the confirmation of a market transfer. The transaction fee
// is split across the requests of the transfer in proportion to what each
// wallet contributed, and every request is queued for exchange.
func (s *SettlementService) Exchange(ctx context.Context, cmd messaging.Exchange) error {
	reqs, err := s.store.FindByTransferHash(ctx, cmd.TransactionHash)
	if err != nil {
		return err
	}

	var errs []error
	pending := make([]models.PaymentRequest, 0, len(reqs))
	for _, r := range reqs {
		switch r.SettlementStatus {
		case domain.StatusTransferringToMarket:
			pending = append(pending, r)
		case domain.StatusTransferredToMarket:
			// an earlier delivery recorded the fee but did not queue the exchange
			if _, err := s.status.QueueExchange(ctx, r.MerchantID, r.ID); err != nil && !errors.Is(err, ErrStageAlreadyPassed) {
				errs = append(errs, s.recordUnknown(ctx, r, err))
			}
		}
	}
	if len(pending) == 0 {
		zap.L().Debug("no pending requests for market transfer", zap.String("tx_hash", cmd.TransactionHash))
		return errors.Join(errs...)
	}

	tx, err := s.lookup.GetTransaction(ctx, cmd.TransactionHash)
	if err != nil {
		for _, r := range pending {
			if _, setErr := s.status.SetError(ctx, r.MerchantID, r.ID, domain.ErrorNoTransactionDetails, err.Error()); setErr != nil {
				zap.L().Error("failed to record missing transaction details", zap.String("payment_request_id", r.ID), zap.Error(setErr))
			}
		}
		return &recordedError{kind: domain.ErrorNoTransactionDetails, err: fmt.Errorf("failed to get transaction %s: %w", cmd.TransactionHash, err)}
	}

	fee := cmd.TransactionFee
	if fee.IsZero() {
		fee = tx.Fee
	}
	total := decimal.Zero
	for _, src := range tx.Sources {
		total = total.Add(src.Amount)
	}

	for _, r := range pending {
		if err := s.queueExchange(ctx, r, tx, fee, total); err != nil && !errors.Is(err, ErrStageAlreadyPassed) {
			errs = append(errs, s.recordUnknown(ctx, r, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SettlementService) queueExchange(ctx context.Context, r models.PaymentRequest, tx *gateway.Transaction, fee, total decimal.Decimal) error {
	sourceAmount, ok := tx.SourceAmount(r.WalletAddress)
	if !ok {
		sourceAmount = r.PaidAmount
		total = decimal.Max(total, sourceAmount)
	}

	feeShare := domain.ProrateFee(fee, sourceAmount, total)
	if asset, err := s.assets.GetAsset(ctx, r.PaymentAssetID); err == nil {
		feeShare = domain.RoundAmount(feeShare, asset.Accuracy)
	}
	marketAmount := sourceAmount.Sub(feeShare)
	if !marketAmount.IsPositive() {
		desc := fmt.Sprintf("market amount %s is not positive after fee %s", marketAmount, feeShare)
		if _, err := s.status.SetError(ctx, r.MerchantID, r.ID, domain.ErrorUnknown, desc); err != nil {
			return err
		}
		return nil
	}

	if _, err := s.status.SetTransferredToMarket(ctx, r.MerchantID, r.ID, feeShare, marketAmount); err != nil {
		return err
	}
	if _, err := s.status.QueueExchange(ctx, r.MerchantID, r.ID); err != nil {
		return err
	}
	return nil
}

// recordUnknown attaches err to one request of a multi-request command, which
// HandleCommand cannot attribute, and marks it as already recorded.
func (s *SettlementService) recordUnknown(ctx context.Context, r models.PaymentRequest, err error) error {
	if _, setErr := s.status.SetError(ctx, r.MerchantID, r.ID, domain.ErrorUnknown, err.Error()); setErr != nil {
		zap.L().Error("failed to record exchange command error", zap.String("payment_request_id", r.ID), zap.Error(setErr))
		return fmt.Errorf("%s: %w", r.ID, err)
	}
	return &recordedError{kind: domain.ErrorUnknown, err: fmt.Errorf("%s: %w", r.ID, err)}
}

func (s *SettlementService) TransferToMerchant(ctx context.Context, cmd messaging.TransferToMerchant) error {
	_, err := s.status.QueueTransferToMerchant(ctx, cmd.MerchantID, cmd.PaymentRequestID)
	return err
}
