package buli2

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/filot/docverify/internal/domain"
)

// RedisRetryQueue is the durable FIFO backing the forwarder fallback.
// Envelopes are LPUSHed and RPOPed so retries preserve escalation order.
type RedisRetryQueue struct {
	rdb *redis.Client
	key string
}

// NewRetryQueue builds the retry queue on the shared Redis client.
func NewRetryQueue(rdb *redis.Client) *RedisRetryQueue {
	return &RedisRetryQueue{rdb: rdb, key: RetryQueueKey}
}

func (q *RedisRetryQueue) PushEnvelope(ctx domain.Context, env RetryEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("op=retryqueue.push: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("op=retryqueue.push: %w", err)
	}
	return nil
}

// PopEnvelope removes and returns the oldest envelope. The second return is
// false when the queue is empty.
func (q *RedisRetryQueue) PopEnvelope(ctx domain.Context) (RetryEnvelope, bool, error) {
	raw, err := q.rdb.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return RetryEnvelope{}, false, nil
	}
	if err != nil {
		return RetryEnvelope{}, false, fmt.Errorf("op=retryqueue.pop: %w", err)
	}
	var env RetryEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return RetryEnvelope{}, false, fmt.Errorf("op=retryqueue.pop: %w", err)
	}
	return env, true, nil
}

func (q *RedisRetryQueue) Depth(ctx domain.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("op=retryqueue.depth: %w", err)
	}
	return n, nil
}
