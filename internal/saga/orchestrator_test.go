package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/merchant-settlement/internal/messaging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	sent []messaging.Command
	err  error
}

func (s *stubSender) Send(_ context.Context, cmd messaging.Command) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func TestRoute(t *testing.T) {
	o := NewSettlementOrchestrator(&stubSender{}, "market-wallet")

	tests := []struct {
		name   string
		event  messaging.Event
		want   messaging.Command
		routed bool
	}{
		{
			name: "confirmed payment starts settlement",
			event: messaging.PaymentRequestDetailsReceived{
				MerchantID: "m1", PaymentRequestID: "pr-1", Status: "Confirmed",
				PaymentAssetID: "USDT", SettlementAssetID: "USD", WalletAddress: "w1",
				PaidAmount: decimal.NewFromInt(100),
			},
			want: messaging.CreateSettlement{
				MerchantID: "m1", PaymentRequestID: "pr-1",
				PaymentAssetID: "USDT", SettlementAssetID: "USD", WalletAddress: "w1",
				PaidAmount: decimal.NewFromInt(100),
			},
			routed: true,
		},
		{
			name:  "unconfirmed payment is ignored",
			event: messaging.PaymentRequestDetailsReceived{MerchantID: "m1", PaymentRequestID: "pr-1", Status: "InProcess"},
		},
		{
			name:   "created settlement moves to market",
			event:  messaging.SettlementCreated{MerchantID: "m1", PaymentRequestID: "pr-1"},
			want:   messaging.TransferToMarket{MerchantID: "m1", PaymentRequestID: "pr-1"},
			routed: true,
		},
		{
			name:  "rejected settlement stops",
			event: messaging.SettlementCreated{MerchantID: "m1", PaymentRequestID: "pr-1", IsError: true},
		},
		{
			name:   "market transfer confirmation exchanges",
			event:  messaging.BlockchainTransferConfirmed{TransactionHash: "0xH", DestinationAddress: "market-wallet", TransactionFee: decimal.NewFromInt(2)},
			want:   messaging.Exchange{TransactionHash: "0xH", TransactionFee: decimal.NewFromInt(2)},
			routed: true,
		},
		{
			name:  "other destinations are ignored",
			event: messaging.BlockchainTransferConfirmed{TransactionHash: "0xH", DestinationAddress: "elsewhere"},
		},
		{
			name:   "exchanged settlement pays the merchant",
			event:  messaging.SettlementExchanged{MerchantID: "m1", PaymentRequestID: "pr-1"},
			want:   messaging.TransferToMerchant{MerchantID: "m1", PaymentRequestID: "pr-1"},
			routed: true,
		},
		{
			name:  "status notifications are not routed",
			event: messaging.SettlementTransferringToMarket{MerchantID: "m1", PaymentRequestID: "pr-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := o.Route(tt.event)
			assert.Equal(t, tt.routed, ok)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestHandleEvent(t *testing.T) {
	t.Run("sends routed command", func(t *testing.T) {
		sender := &stubSender{}
		o := NewSettlementOrchestrator(sender, "market-wallet")

		require.NoError(t, o.HandleEvent(context.Background(), messaging.SettlementExchanged{MerchantID: "m1", PaymentRequestID: "pr-1"}))
		require.NoError(t, o.HandleEvent(context.Background(), messaging.SettlementError{MerchantID: "m1", PaymentRequestID: "pr-1"}))

		require.Len(t, sender.sent, 1)
		assert.Equal(t, messaging.TypeTransferToMerchant, sender.sent[0].CommandType())
	})

	t.Run("send failure is returned for redelivery", func(t *testing.T) {
		boom := errors.New("broker down")
		o := NewSettlementOrchestrator(&stubSender{err: boom}, "market-wallet")

		err := o.HandleEvent(context.Background(), messaging.SettlementCreated{MerchantID: "m1", PaymentRequestID: "pr-1"})
		require.ErrorIs(t, err, boom)
	})
}
