package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownMessageType = errors.New("unknown message type")

const envelopeVersion = "1.0"

// Envelope wraps every message put on the bus.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	Type          string          `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func newEnvelope(msgType, source, correlationID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	env := Envelope{
		MessageID:     uuid.NewString(),
		Type:          msgType,
		Timestamp:     time.Now().UTC(),
		Version:       envelopeVersion,
		Source:        source,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	return json.Marshal(env)
}

func EncodeCommand(cmd Command, source, correlationID string) ([]byte, error) {
	return newEnvelope(cmd.CommandType(), source, correlationID, cmd)
}

func EncodeEvent(evt Event, source, correlationID string) ([]byte, error) {
	return newEnvelope(evt.EventType(), source, correlationID, evt)
}

func DecodeCommand(data []byte) (Command, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, env, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var (
		cmd Command
		err error
	)
	switch env.Type {
	case TypeCreateSettlement:
		cmd, err = decodePayload[CreateSettlement](env.Payload)
	case TypeTransferToMarket:
		cmd, err = decodePayload[TransferToMarket](env.Payload)
	case TypeExchange:
		cmd, err = decodePayload[Exchange](env.Payload)
	case TypeTransferToMerchant:
		cmd, err = decodePayload[TransferToMerchant](env.Payload)
	default:
		return nil, env, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
	}
	if err != nil {
		return nil, env, fmt.Errorf("failed to decode %s: %w", env.Type, err)
	}
	return cmd, env, nil
}

func DecodeEvent(data []byte) (Event, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, env, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var (
		evt Event
		err error
	)
	switch env.Type {
	case TypePaymentRequestDetailsReceived:
		evt, err = decodePayload[PaymentRequestDetailsReceived](env.Payload)
	case TypeBlockchainTransferConfirmed:
		evt, err = decodePayload[BlockchainTransferConfirmed](env.Payload)
	case TypeSettlementCreated:
		evt, err = decodePayload[SettlementCreated](env.Payload)
	case TypeSettlementTransferToMarketQueue:
		evt, err = decodePayload[SettlementTransferToMarketQueued](env.Payload)
	case TypeSettlementTransferringToMarket:
		evt, err = decodePayload[SettlementTransferringToMarket](env.Payload)
	case TypeSettlementExchangeQueued:
		evt, err = decodePayload[SettlementExchangeQueued](env.Payload)
	case TypeSettlementExchanged:
		evt, err = decodePayload[SettlementExchanged](env.Payload)
	case TypeSettlementTransferredToMerchant:
		evt, err = decodePayload[SettlementTransferredToMerchant](env.Payload)
	case TypeSettlementError:
		evt, err = decodePayload[SettlementError](env.Payload)
	default:
		return nil, env, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
	}
	if err != nil {
		return nil, env, fmt.Errorf("failed to decode %s: %w", env.Type, err)
	}
	return evt, env, nil
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
