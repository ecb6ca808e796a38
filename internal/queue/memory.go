package queue

import (
	"context"
	"sync"
)

type memoryEntry[T any] struct {
	seq  uint64
	item T
}

// MemoryQueue is an in-process BatchQueue with the same contract as RedisQueue.
type MemoryQueue[T any] struct {
	mu      sync.Mutex
	nextSeq uint64
	entries []memoryEntry[T]
}

func NewMemoryQueue[T any]() *MemoryQueue[T] {
	return &MemoryQueue[T]{}
}

func (q *MemoryQueue[T]) Enqueue(_ context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSeq++
	q.entries = append(q.entries, memoryEntry[T]{seq: q.nextSeq, item: item})
	return nil
}

func (q *MemoryQueue[T]) ProcessBatch(ctx context.Context, maxCount int, handler Handler[T]) (Outcome, error) {
	if maxCount <= 0 {
		return nil, ErrInvalidBatchSize
	}

	q.mu.Lock()
	n := min(maxCount, len(q.entries))
	peeked := make([]memoryEntry[T], n)
	copy(peeked, q.entries[:n])
	q.mu.Unlock()

	items := make([]T, n)
	for i, e := range peeked {
		items[i] = e.item
	}

	out, err := runHandler(ctx, handler, items)
	if err != nil || !succeeded(out) || n == 0 {
		return out, err
	}

	acked := make(map[uint64]struct{}, n)
	for _, e := range peeked {
		acked[e.seq] = struct{}{}
	}

	q.mu.Lock()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if _, ok := acked[e.seq]; !ok {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	q.mu.Unlock()
	return out, nil
}

func (q *MemoryQueue[T]) List(_ context.Context, limit int) ([]T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = q.entries[i].item
	}
	return out, nil
}

func (q *MemoryQueue[T]) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}
