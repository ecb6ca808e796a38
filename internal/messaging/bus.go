package messaging

import "context"

// CommandSender puts a command on the bus.
type CommandSender interface {
	Send(ctx context.Context, cmd Command) error
}

// EventPublisher puts an event on the bus.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// CommandHandler returns an error to have the command redelivered.
type CommandHandler func(ctx context.Context, cmd Command) error

// EventHandler returns an error to have the event redelivered.
type EventHandler func(ctx context.Context, evt Event) error
