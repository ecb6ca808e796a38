package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCommandEnvelopeRoundTrip(t *testing.T) {
	cmd := Exchange{TransactionHash: "0xabc", TransactionFee: decimal.RequireFromString("0.5")}

	data, err := EncodeCommand(cmd, "settlement", "corr-1")
	require.NoError(t, err)

	decoded, env, err := DecodeCommand(data)
	require.NoError(t, err)
	require.Equal(t, TypeExchange, env.Type)
	require.Equal(t, "corr-1", env.CorrelationID)
	require.NotEmpty(t, env.MessageID)

	got, ok := decoded.(Exchange)
	require.True(t, ok)
	require.Equal(t, "0xabc", got.TransactionHash)
	require.True(t, got.TransactionFee.Equal(cmd.TransactionFee))
}

func TestEventEnvelopeDecodesConcreteType(t *testing.T) {
	data, err := EncodeEvent(SettlementCreated{MerchantID: "m1", PaymentRequestID: "p1", IsError: true}, "settlement", "")
	require.NoError(t, err)

	evt, _, err := DecodeEvent(data)
	require.NoError(t, err)
	created, ok := evt.(SettlementCreated)
	require.True(t, ok)
	require.True(t, created.IsError)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	data, err := json.Marshal(Envelope{Type: "Refund", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	_, _, err = DecodeCommand(data)
	require.ErrorIs(t, err, ErrUnknownMessageType)
	_, _, err = DecodeEvent(data)
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestEveryTypeIsDecodable(t *testing.T) {
	commands := []Command{CreateSettlement{}, TransferToMarket{}, Exchange{}, TransferToMerchant{}}
	for _, c := range commands {
		data, err := EncodeCommand(c, "test", "")
		require.NoError(t, err)
		_, _, err = DecodeCommand(data)
		require.NoError(t, err, c.CommandType())
	}
	require.Len(t, CommandTypes, len(commands))

	events := []Event{
		PaymentRequestDetailsReceived{}, BlockchainTransferConfirmed{}, SettlementCreated{},
		SettlementTransferToMarketQueued{}, SettlementTransferringToMarket{}, SettlementExchangeQueued{},
		SettlementExchanged{}, SettlementTransferredToMerchant{}, SettlementError{},
	}
	for _, e := range events {
		data, err := EncodeEvent(e, "test", "")
		require.NoError(t, err)
		_, _, err = DecodeEvent(data)
		require.NoError(t, err, e.EventType())
	}
	require.Len(t, EventTypes, len(events))
}

func TestMemoryBusRetriesThenGivesUp(t *testing.T) {
	bus := NewMemoryBus()
	calls := 0
	bus.HandleCommands(func(context.Context, Command) error {
		calls++
		return errors.New("boom")
	})

	require.NoError(t, bus.Send(context.Background(), TransferToMarket{}))
	require.Equal(t, 3, calls)
}

func TestMemoryBusDeliversEvents(t *testing.T) {
	bus := NewMemoryBus()
	var seen []string
	bus.HandleEvents(func(_ context.Context, evt Event) error {
		seen = append(seen, evt.EventType())
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), SettlementExchanged{}))
	require.Equal(t, []string{TypeSettlementExchanged}, seen)
}
