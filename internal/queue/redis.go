package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ackScript removes the peeked prefix. When the head no longer matches (the
// list was trimmed or reordered behind our back) it falls back to removing
// each peeked value once.
var ackScript = redis.NewScript(`
local n = #ARGV
local head = redis.call('LRANGE', KEYS[1], 0, n - 1)
local same = #head == n
if same then
	for i = 1, n do
		if head[i] ~= ARGV[i] then
			same = false
			break
		end
	end
end
if same then
	redis.call('LTRIM', KEYS[1], n, -1)
	return n
end
local removed = 0
for i = 1, n do
	removed = removed + redis.call('LREM', KEYS[1], 1, ARGV[i])
end
return removed
`)

// RedisQueue stores JSON-encoded items in a Redis list. Values that no longer
// decode are moved to the <key>:dead list so they cannot stall the head.
type RedisQueue[T any] struct {
	client redis.Cmdable
	key    string
}

func NewRedisQueue[T any](client redis.Cmdable, key string) *RedisQueue[T] {
	return &RedisQueue[T]{client: client, key: key}
}

// DeadKey is the list holding values that failed to decode.
func (q *RedisQueue[T]) DeadKey() string {
	return q.key + ":dead"
}

func (q *RedisQueue[T]) Enqueue(ctx context.Context, item T) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode queue item: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue to %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue[T]) ProcessBatch(ctx context.Context, maxCount int, handler Handler[T]) (Outcome, error) {
	if maxCount <= 0 {
		return nil, ErrInvalidBatchSize
	}

	raw, err := q.client.LRange(ctx, q.key, 0, int64(maxCount-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to peek %s: %w", q.key, err)
	}

	items, good, bad := decodeAll[T](raw)
	if len(bad) > 0 {
		if err := q.deadLetter(ctx, bad); err != nil {
			return nil, err
		}
	}

	out, err := runHandler(ctx, handler, items)
	if err != nil || !succeeded(out) || len(good) == 0 {
		return out, err
	}

	args := make([]any, len(good))
	for i, r := range good {
		args[i] = r
	}
	if err := ackScript.Run(ctx, q.client, []string{q.key}, args...).Err(); err != nil {
		return out, fmt.Errorf("failed to acknowledge %d items on %s: %w", len(good), q.key, err)
	}
	return out, nil
}

// deadLetter moves undecodable values off the queue in one transaction.
func (q *RedisQueue[T]) deadLetter(ctx context.Context, bad []string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range bad {
			pipe.LRem(ctx, q.key, 1, r)
			pipe.RPush(ctx, q.DeadKey(), r)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter %d items on %s: %w", len(bad), q.key, err)
	}
	for range bad {
		observability.IncrementDeadLetter(q.key)
	}
	zap.L().Warn("moved undecodable queue items to dead list",
		zap.String("queue", q.key),
		zap.String("dead_key", q.DeadKey()),
		zap.Int("count", len(bad)))
	return nil
}

func (q *RedisQueue[T]) List(ctx context.Context, limit int) ([]T, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := q.client.LRange(ctx, q.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.key, err)
	}
	items, _, bad := decodeAll[T](raw)
	if len(bad) > 0 {
		zap.L().Warn("skipping undecodable queue items", zap.String("queue", q.key), zap.Int("count", len(bad)))
	}
	return items, nil
}

func (q *RedisQueue[T]) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", q.key, err)
	}
	return n, nil
}

// decodeAll splits raw values into decoded items with their source values and
// the values that failed to decode.
func decodeAll[T any](raw []string) (items []T, good, bad []string) {
	items = make([]T, 0, len(raw))
	for _, r := range raw {
		var item T
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			bad = append(bad, r)
			continue
		}
		items = append(items, item)
		good = append(good, r)
	}
	return items, good, bad
}
