package messaging

import (
	"context"
	"sync"

	"github.com/ayo6706/merchant-settlement/internal/observability"
	"go.uber.org/zap"
)

// MemoryBus dispatches in-process and synchronously. Handler errors are
// retried up to MaxAttempts and then logged, never returned to the sender,
// matching how a broker decouples producers from consumers.
type MemoryBus struct {
	MaxAttempts int

	mu              sync.RWMutex
	commandHandlers []CommandHandler
	eventHandlers   []EventHandler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{MaxAttempts: 3}
}

func (b *MemoryBus) HandleCommands(h CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commandHandlers = append(b.commandHandlers, h)
}

func (b *MemoryBus) HandleEvents(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventHandlers = append(b.eventHandlers, h)
}

func (b *MemoryBus) Send(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	handlers := append([]CommandHandler(nil), b.commandHandlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(cmd.CommandType(), func() error { return h(ctx, cmd) })
	}
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.eventHandlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(evt.EventType(), func() error { return h(ctx, evt) })
	}
	return nil
}

func (b *MemoryBus) deliver(msgType string, fn func() error) {
	attempts := max(b.MaxAttempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			observability.IncrementBusMessage(msgType, "ack")
			return
		}
		observability.IncrementBusMessage(msgType, "requeue")
	}
	zap.L().Error("in-memory bus handler gave up",
		zap.String("type", msgType),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}
