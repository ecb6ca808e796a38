package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	CommandsExchange = "settlement.commands"
	EventsExchange   = "settlement.events"
)

// RabbitBus carries commands and events over two durable topic exchanges.
// The routing key of every message is its type name.
type RabbitBus struct {
	conn   *amqp.Connection
	source string

	mu sync.Mutex
	ch *amqp.Channel
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewRabbitBus dials RabbitMQ and declares both exchanges.
func NewRabbitBus(amqpURL, source string) (*RabbitBus, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, exchange := range []string{CommandsExchange, EventsExchange} {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	return &RabbitBus{conn: conn, ch: ch, source: source}, nil
}

func (b *RabbitBus) Send(ctx context.Context, cmd Command) error {
	body, err := EncodeCommand(cmd, b.source, "")
	if err != nil {
		return err
	}
	return b.publish(ctx, CommandsExchange, cmd.CommandType(), body)
}

func (b *RabbitBus) Publish(ctx context.Context, evt Event) error {
	body, err := EncodeEvent(evt, b.source, "")
	if err != nil {
		return err
	}
	return b.publish(ctx, EventsExchange, evt.EventType(), body)
}

func (b *RabbitBus) publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         routingKey,
		Body:         body,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	zap.L().Warn("publish failed; reopening channel",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err),
	)
	ch, chErr := b.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, errors.Join(err, chErr))
	}
	b.ch = ch
	if err := b.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

// ConsumeCommands binds queueName to every command type and dispatches
// deliveries to handler until ctx is canceled.
func (b *RabbitBus) ConsumeCommands(ctx context.Context, queueName string, prefetch int, handler CommandHandler) error {
	return b.consume(ctx, CommandsExchange, queueName, CommandTypes, prefetch, func(ctx context.Context, body []byte) (string, bool, error) {
		cmd, env, err := DecodeCommand(body)
		if err != nil {
			return env.Type, false, err
		}
		return env.Type, true, handler(ctx, cmd)
	})
}

// ConsumeEvents binds queueName to the given event types.
func (b *RabbitBus) ConsumeEvents(ctx context.Context, queueName string, types []string, prefetch int, handler EventHandler) error {
	return b.consume(ctx, EventsExchange, queueName, types, prefetch, func(ctx context.Context, body []byte) (string, bool, error) {
		evt, env, err := DecodeEvent(body)
		if err != nil {
			return env.Type, false, err
		}
		return env.Type, true, handler(ctx, evt)
	})
}

type deliveryFunc func(ctx context.Context, body []byte) (msgType string, decoded bool, err error)

func (b *RabbitBus) consume(ctx context.Context, exchange, queueName string, routingKeys []string, prefetch int, fn deliveryFunc) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("failed to bind %s to %s: %w", key, queueName, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume %s: %w", queueName, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					zap.L().Warn("delivery channel closed", zap.String("queue", queueName))
					return
				}
				b.dispatch(ctx, queueName, d, fn)
			}
		}
	}()
	return nil
}

func (b *RabbitBus) dispatch(ctx context.Context, queueName string, d amqp.Delivery, fn deliveryFunc) {
	msgType, decoded, err := fn(ctx, d.Body)
	switch {
	case !decoded:
		zap.L().Warn("dropping undecodable message",
			zap.String("queue", queueName),
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err),
		)
		observability.IncrementBusMessage(d.RoutingKey, "dropped")
		_ = d.Ack(false)
	case err != nil:
		zap.L().Error("handler failed; re-queuing",
			zap.String("queue", queueName),
			zap.String("type", msgType),
			zap.Error(err),
		)
		observability.IncrementBusMessage(msgType, "requeue")
		_ = d.Nack(false, true)
	default:
		observability.IncrementBusMessage(msgType, "ack")
		_ = d.Ack(false)
	}
}

// Healthy reports whether the connection is still open.
func (b *RabbitBus) Healthy() bool {
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *RabbitBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
