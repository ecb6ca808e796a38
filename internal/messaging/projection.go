package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ProjectionSink receives the full payment request after every status change.
type ProjectionSink interface {
	Write(ctx context.Context, req models.PaymentRequest) error
}

// KafkaProjectionConfig configures the projection writer.
type KafkaProjectionConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	RequiredAcks int
}

// KafkaProjection streams payment request snapshots keyed by merchant and id,
// so every snapshot of one request lands on the same partition in order.
type KafkaProjection struct {
	writer *kafka.Writer
}

func NewKafkaProjection(cfg KafkaProjectionConfig) *KafkaProjection {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaProjection{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			WriteTimeout: cfg.WriteTimeout,
			Compression:  kafka.Snappy,
		},
	}
}

func ProjectionKey(merchantID, id string) string {
	return merchantID + "/" + id
}

func (p *KafkaProjection) Write(ctx context.Context, req models.PaymentRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ProjectionKey(req.MerchantID, req.ID)),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "settlement_status", Value: []byte(req.SettlementStatus)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write projection for %s: %w", req.ID, err)
	}
	return nil
}

func (p *KafkaProjection) Close() error {
	return p.writer.Close()
}

// LogProjection is used when no Kafka brokers are configured.
type LogProjection struct{}

func (LogProjection) Write(_ context.Context, req models.PaymentRequest) error {
	zap.L().Debug("projection skipped: no kafka brokers configured",
		zap.String("merchant_id", req.MerchantID),
		zap.String("payment_request_id", req.ID),
		zap.String("settlement_status", string(req.SettlementStatus)),
	)
	return nil
}
