package saga

import (
	"context"
	"strings"

	"github.com/ayo6706/merchant-settlement/internal/domain"
	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"go.uber.org/zap"
)

// SettlementOrchestrator turns pipeline events into the next settlement
// command. It holds no state of its own; the payment request status is the
// source of truth and every command it sends is idempotent downstream.
type SettlementOrchestrator struct {
	commands     messaging.CommandSender
	marketWallet string
}

func NewSettlementOrchestrator(commands messaging.CommandSender, marketWallet string) *SettlementOrchestrator {
	return &SettlementOrchestrator{commands: commands, marketWallet: marketWallet}
}

// SubscribedEvents are the event types Route acts on.
var SubscribedEvents = []string{
	messaging.TypePaymentRequestDetailsReceived,
	messaging.TypeSettlementCreated,
	messaging.TypeBlockchainTransferConfirmed,
	messaging.TypeSettlementExchanged,
}

// Route returns the command that follows evt, if any.
func (o *SettlementOrchestrator) Route(evt messaging.Event) (messaging.Command, bool) {
	switch e := evt.(type) {
	case messaging.PaymentRequestDetailsReceived:
		if !strings.EqualFold(e.Status, domain.PaymentStatusConfirmed) {
			return nil, false
		}
		return messaging.CreateSettlement{
			MerchantID:        e.MerchantID,
			PaymentRequestID:  e.PaymentRequestID,
			OrderID:           e.OrderID,
			Amount:            e.Amount,
			SettlementAssetID: e.SettlementAssetID,
			PaymentAssetID:    e.PaymentAssetID,
			DueDate:           e.DueDate,
			MarkupPercent:     e.MarkupPercent,
			MarkupPips:        e.MarkupPips,
			MarkupFixedFee:    e.MarkupFixedFee,
			WalletAddress:     e.WalletAddress,
			PaidAmount:        e.PaidAmount,
			PaidDate:          e.PaidDate,
		}, true

	case messaging.SettlementCreated:
		if e.IsError {
			return nil, false
		}
		return messaging.TransferToMarket{
			MerchantID:       e.MerchantID,
			PaymentRequestID: e.PaymentRequestID,
		}, true

	case messaging.BlockchainTransferConfirmed:
		// transfers to other destinations are not ours
		if e.DestinationAddress != o.marketWallet {
			return nil, false
		}
		return messaging.Exchange{
			TransactionHash: e.TransactionHash,
			TransactionFee:  e.TransactionFee,
		}, true

	case messaging.SettlementExchanged:
		return messaging.TransferToMerchant{
			MerchantID:       e.MerchantID,
			PaymentRequestID: e.PaymentRequestID,
		}, true
	}
	return nil, false
}

// HandleEvent sends the routed command. A send failure is returned so the
// event is redelivered.
func (o *SettlementOrchestrator) HandleEvent(ctx context.Context, evt messaging.Event) error {
	cmd, ok := o.Route(evt)
	if !ok {
		return nil
	}
	if err := o.commands.Send(ctx, cmd); err != nil {
		zap.L().Error("failed to send settlement command",
			zap.String("event", evt.EventType()),
			zap.String("command", cmd.CommandType()),
			zap.Error(err),
		)
		return err
	}
	zap.L().Debug("settlement command sent",
		zap.String("event", evt.EventType()),
		zap.String("command", cmd.CommandType()),
	)
	return nil
}
