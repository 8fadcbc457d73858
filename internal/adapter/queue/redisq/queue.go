// Package redisq implements the durable queue substrate on Redis: main FIFO
// list, processing set, per-document locks, attempts counters, a delayed
// retry set and a pub/sub results channel. All multi-key transitions run as
// Lua scripts so concurrent workers observe them atomically.
package redisq

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/filot/docverify/internal/domain"
)

// Family selects one of the two coexisting queue families. CPU and GPU
// workers share substrate primitives but never share keys.
type Family string

const (
	FamilyCPU Family = "cpu"
	FamilyGPU Family = "gpu"
)

// Queue is the Redis-backed substrate for one queue family. The deployment
// prefix is mandatory so every process in the fleet agrees on key namespaces.
type Queue struct {
	rdb    *redis.Client
	prefix string

	enqueueScript *redis.Script
	dequeueScript *redis.Script
	sweepScript   *redis.Script
}

// enqueue is idempotent: a document already queued or in the processing set
// is not queued twice.
const enqueueLua = `
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
  return 0
end
if redis.call("SISMEMBER", KEYS[3], ARGV[1]) == 1 then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("LPUSH", KEYS[1], ARGV[1])
return 1
`

// dequeue pops the tail (FIFO against LPUSH), moves the id into the
// processing set and records the processing-start timestamp.
const dequeueLua = `
local id = redis.call("RPOP", KEYS[1])
if not id then
  return false
end
redis.call("SREM", KEYS[2], id)
redis.call("SADD", KEYS[3], id)
redis.call("HSET", KEYS[4], id, ARGV[1])
return id
`

// sweep moves matured delayed entries back onto the main list exactly once.
const sweepLua = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
local moved = 0
for _, id in ipairs(ids) do
  if redis.call("ZREM", KEYS[1], id) == 1 then
    if redis.call("SISMEMBER", KEYS[3], id) == 0 then
      redis.call("SADD", KEYS[3], id)
      redis.call("LPUSH", KEYS[2], id)
      moved = moved + 1
    end
  end
end
return moved
`

// New constructs the substrate for one family under the given deployment
// prefix (e.g. "filot:ocr:").
func New(rdb *redis.Client, deploymentPrefix string, family Family) *Queue {
	return &Queue{
		rdb:           rdb,
		prefix:        deploymentPrefix + string(family) + ":",
		enqueueScript: redis.NewScript(enqueueLua),
		dequeueScript: redis.NewScript(dequeueLua),
		sweepScript:   redis.NewScript(sweepLua),
	}
}

func (q *Queue) keyQueue() string       { return q.prefix + "queue" }
func (q *Queue) keyQueued() string      { return q.prefix + "queued" }
func (q *Queue) keyProcessing() string  { return q.prefix + "processing" }
func (q *Queue) keyStarted() string     { return q.prefix + "started" }
func (q *Queue) keyAttempts() string    { return q.prefix + "attempts" }
func (q *Queue) keyCorrelation() string { return q.prefix + "correlation" }
func (q *Queue) keyDelayed() string     { return q.prefix + "delayed" }
func (q *Queue) keyFailed() string      { return q.prefix + "failed" }
func (q *Queue) keyLock(docID string) string { return q.prefix + "lock:" + docID }

// ResultsChannel is the pub/sub channel results are broadcast on.
func (q *Queue) ResultsChannel() string { return q.prefix + "results" }

// Enqueue appends docID to the main list. Returns false when the document is
// already queued or processing.
func (q *Queue) Enqueue(ctx domain.Context, docID string) (bool, error) {
	n, err := q.enqueueScript.Run(ctx, q.rdb,
		[]string{q.keyQueue(), q.keyQueued(), q.keyProcessing()}, docID).Int()
	if err != nil {
		return false, fmt.Errorf("op=queue.enqueue: %w", err)
	}
	return n == 1, nil
}

// Dequeue pops the queue head into the processing set. Returns ErrNotFound
// when the queue is empty.
func (q *Queue) Dequeue(ctx domain.Context) (string, error) {
	res, err := q.dequeueScript.Run(ctx, q.rdb,
		[]string{q.keyQueue(), q.keyQueued(), q.keyProcessing(), q.keyStarted()},
		time.Now().UnixMilli()).Result()
	if err == redis.Nil {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("op=queue.dequeue: %w", err)
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return "", domain.ErrNotFound
	}
	return id, nil
}

// MarkComplete clears all transient state for docID and releases its lock so
// a later re-process starts fresh.
func (q *Queue) MarkComplete(ctx domain.Context, docID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.keyProcessing(), docID)
	pipe.HDel(ctx, q.keyAttempts(), docID)
	pipe.HDel(ctx, q.keyStarted(), docID)
	pipe.HDel(ctx, q.keyCorrelation(), docID)
	pipe.Del(ctx, q.keyLock(docID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.mark_complete: %w", err)
	}
	return nil
}

// MarkFailed is MarkComplete plus a durable failure marker.
func (q *Queue) MarkFailed(ctx domain.Context, docID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.keyProcessing(), docID)
	pipe.HDel(ctx, q.keyAttempts(), docID)
	pipe.HDel(ctx, q.keyStarted(), docID)
	pipe.HDel(ctx, q.keyCorrelation(), docID)
	pipe.Del(ctx, q.keyLock(docID))
	pipe.HSet(ctx, q.keyFailed(), docID, time.Now().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.mark_failed: %w", err)
	}
	return nil
}

// IncrementAttempts atomically bumps and returns the attempt counter.
func (q *Queue) IncrementAttempts(ctx domain.Context, docID string) (int, error) {
	n, err := q.rdb.HIncrBy(ctx, q.keyAttempts(), docID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("op=queue.increment_attempts: %w", err)
	}
	return int(n), nil
}

// Attempts returns the current attempt counter without modifying it.
func (q *Queue) Attempts(ctx domain.Context, docID string) (int, error) {
	v, err := q.rdb.HGet(ctx, q.keyAttempts(), docID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("op=queue.attempts: %w", err)
	}
	n, _ := strconv.Atoi(v)
	return n, nil
}

// ScheduleRetry places docID in the delayed set, scored by its due time. The
// document must not sit on the main list while delayed; the caller removes it
// from processing via this call's companion state.
func (q *Queue) ScheduleRetry(ctx domain.Context, docID string, delay time.Duration) error {
	due := float64(time.Now().Add(delay).UnixMilli())
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.keyProcessing(), docID)
	pipe.HDel(ctx, q.keyStarted(), docID)
	pipe.ZAdd(ctx, q.keyDelayed(), redis.Z{Score: due, Member: docID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.schedule_retry: %w", err)
	}
	return nil
}

// SweepDelayed moves matured delayed entries back to the main list. Returns
// the number moved.
func (q *Queue) SweepDelayed(ctx domain.Context) (int, error) {
	n, err := q.sweepScript.Run(ctx, q.rdb,
		[]string{q.keyDelayed(), q.keyQueue(), q.keyQueued()},
		time.Now().UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("op=queue.sweep_delayed: %w", err)
	}
	return n, nil
}

// AcquireLock takes the per-document lock with a TTL. Returns false when
// another holder exists.
func (q *Queue) AcquireLock(ctx domain.Context, docID string, ttl time.Duration) (bool, error) {
	ok, err := q.rdb.SetNX(ctx, q.keyLock(docID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=queue.acquire_lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock key.
func (q *Queue) ReleaseLock(ctx domain.Context, docID string) error {
	if err := q.rdb.Del(ctx, q.keyLock(docID)).Err(); err != nil {
		return fmt.Errorf("op=queue.release_lock: %w", err)
	}
	return nil
}

// PublishResult broadcasts a processing summary on the results channel.
func (q *Queue) PublishResult(ctx domain.Context, docID string, result domain.ProcessingResult) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("op=queue.publish_result: %w", err)
	}
	if err := q.rdb.Publish(ctx, q.ResultsChannel(), b).Err(); err != nil {
		return fmt.Errorf("op=queue.publish_result: %w", err)
	}
	return nil
}

// SubscribeResults returns a channel of decoded results. The subscription is
// closed when ctx is cancelled.
func (q *Queue) SubscribeResults(ctx domain.Context) (<-chan domain.ProcessingResult, error) {
	sub := q.rdb.Subscribe(ctx, q.ResultsChannel())
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("op=queue.subscribe_results: %w", err)
	}
	out := make(chan domain.ProcessingResult)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var res domain.ProcessingResult
				if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
					continue
				}
				select {
				case out <- res:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SetCorrelationID records the correlation id for docID.
func (q *Queue) SetCorrelationID(ctx domain.Context, docID, cid string) error {
	if err := q.rdb.HSet(ctx, q.keyCorrelation(), docID, cid).Err(); err != nil {
		return fmt.Errorf("op=queue.set_correlation: %w", err)
	}
	return nil
}

// GetCorrelationID returns the correlation id for docID, or empty when none
// is recorded.
func (q *Queue) GetCorrelationID(ctx domain.Context, docID string) (string, error) {
	v, err := q.rdb.HGet(ctx, q.keyCorrelation(), docID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("op=queue.get_correlation: %w", err)
	}
	return v, nil
}

// ProcessingSince returns the recorded processing-start time for docID.
func (q *Queue) ProcessingSince(ctx domain.Context, docID string) (time.Time, error) {
	v, err := q.rdb.HGet(ctx, q.keyStarted(), docID).Result()
	if err == redis.Nil {
		return time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("op=queue.processing_since: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("op=queue.processing_since: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// ProcessingSet returns every document id currently in the processing set.
func (q *Queue) ProcessingSet(ctx domain.Context) ([]string, error) {
	ids, err := q.rdb.SMembers(ctx, q.keyProcessing()).Result()
	if err != nil {
		return nil, fmt.Errorf("op=queue.processing_set: %w", err)
	}
	return ids, nil
}

// RemoveFromProcessing drops docID from the processing set without touching
// the rest of its transient state. Used by startup recovery.
func (q *Queue) RemoveFromProcessing(ctx domain.Context, docID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.keyProcessing(), docID)
	pipe.HDel(ctx, q.keyStarted(), docID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.remove_from_processing: %w", err)
	}
	return nil
}

// QueueDepth reports the main list length.
func (q *Queue) QueueDepth(ctx domain.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.keyQueue()).Result()
	if err != nil {
		return 0, fmt.Errorf("op=queue.depth: %w", err)
	}
	return n, nil
}

// Ping verifies substrate reachability.
func (q *Queue) Ping(ctx domain.Context) error {
	return q.rdb.Ping(ctx).Err()
}
