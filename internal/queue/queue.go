// Package queue provides an at-least-once batch queue: items are peeked,
// handed to a handler, and removed only when the handler reports success.
package queue

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidBatchSize = errors.New("batch size must be positive")

// Outcome is the result a batch handler returns. The batch is acknowledged
// iff IsSuccess reports true.
type Outcome interface {
	IsSuccess() bool
}

// Handler processes one peeked batch. It is invoked exactly once per
// ProcessBatch call, with an empty slice when the queue is empty.
type Handler[T any] func(ctx context.Context, items []T) Outcome

// BatchQueue is consumed by the transfer coordinators.
type BatchQueue[T any] interface {
	Enqueue(ctx context.Context, item T) error
	ProcessBatch(ctx context.Context, maxCount int, handler Handler[T]) (Outcome, error)
	List(ctx context.Context, limit int) ([]T, error)
	Len(ctx context.Context) (int64, error)
}

// Result is a ready-made Outcome.
type Result bool

const (
	Success Result = true
	Failure Result = false
)

func (r Result) IsSuccess() bool { return bool(r) }

// runHandler shields the queue from a panicking handler: the batch is left
// untouched and the panic surfaces as an error.
func runHandler[T any](ctx context.Context, handler Handler[T], items []T) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("batch handler panicked: %v", r)
		}
	}()
	return handler(ctx, items), nil
}

func succeeded(out Outcome) bool {
	return out != nil && out.IsSuccess()
}
