package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

const (
	redisQueueKey  = "finlytic:queue:batches"
	redisDedupKey  = "finlytic:queue:dedup:%s:%d"
	redisPopPeriod = time.Second
)

// envelope wraps a batch with its delivery count for bounded redelivery.
type envelope struct {
	Batch    models.Batch `json:"batch"`
	Attempts int          `json:"attempts"`
}

// RedisQueue is a Redis-list-backed job queue with at-least-once delivery.
// A SETNX guard keyed on (session, batch index) and holding the owning jobID
// stops a resubmitted batch of the SAME job from fanning out duplicate work;
// a different job reusing the slot (a new document in the session, or a
// re-ingest under a fresh job) takes the guard over and publishes normally.
// Failed deliveries are pushed back until the attempt ceiling.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger
}

func NewRedisQueue(client *redis.Client, opts Options, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, opts: opts.withDefaults(), logger: logger}
}

var _ core.JobQueue = (*RedisQueue)(nil)

func (q *RedisQueue) Publish(ctx context.Context, batch *models.Batch) error {
	guard := fmt.Sprintf(redisDedupKey, batch.SessionID, batch.BatchIndex)
	fresh, err := q.client.SetNX(ctx, guard, batch.JobID, q.opts.DedupTTL).Result()
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !fresh {
		owner, err := q.client.Get(ctx, guard).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("dedup owner check: %w", err)
		}
		if err == nil && owner == batch.JobID {
			q.logger.Debug("duplicate batch publish suppressed",
				"job_id", batch.JobID, "session_id", batch.SessionID, "batch_index", batch.BatchIndex)
			return nil
		}
		// Another job holds the slot (or the guard just expired); take it
		// over so this job's batch is not silently lost.
		if err := q.client.Set(ctx, guard, batch.JobID, q.opts.DedupTTL).Err(); err != nil {
			return fmt.Errorf("dedup takeover: %w", err)
		}
	}

	data, err := json.Marshal(envelope{Batch: *batch, Attempts: 1})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if err := q.client.LPush(ctx, redisQueueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue batch %d for job %s: %w", batch.BatchIndex, batch.JobID, err)
	}
	return nil
}

// Consume blocks draining the queue until ctx is done. Each delivery runs on
// the worker pool; the calling goroutine only pops and dispatches.
func (q *RedisQueue) Consume(ctx context.Context, handler core.BatchHandler) error {
	pool, err := ants.NewPool(q.opts.Workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		vals, err := q.client.BRPop(ctx, redisPopPeriod, redisQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warn("queue pop failed", "error", err)
			time.Sleep(redisPopPeriod)
			continue
		}
		if len(vals) != 2 {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(vals[1]), &env); err != nil {
			q.logger.Warn("dropping malformed queue payload", "error", err)
			continue
		}

		submitErr := pool.Submit(func() {
			q.deliver(ctx, handler, env)
		})
		if submitErr != nil {
			// Pool is released only on shutdown; requeue so the item survives.
			q.requeue(ctx, env)
		}
	}
}

func (q *RedisQueue) deliver(ctx context.Context, handler core.BatchHandler, env envelope) {
	if err := handler(ctx, &env.Batch); err != nil {
		q.logger.Warn("batch delivery failed",
			"job_id", env.Batch.JobID, "batch_index", env.Batch.BatchIndex,
			"attempt", env.Attempts, "error", err)
		if env.Attempts < q.opts.MaxAttempts {
			env.Attempts++
			q.requeue(ctx, env)
		} else {
			q.logger.Error("batch dropped after max delivery attempts",
				"job_id", env.Batch.JobID, "batch_index", env.Batch.BatchIndex)
		}
	}
}

func (q *RedisQueue) requeue(ctx context.Context, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := q.client.LPush(ctx, redisQueueKey, data).Err(); err != nil {
		q.logger.Error("requeue failed",
			"job_id", env.Batch.JobID, "batch_index", env.Batch.BatchIndex, "error", err)
	}
}

func (q *RedisQueue) Close() error {
	return nil
}
