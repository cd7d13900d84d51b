package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

// MemoryQueue is the in-process queue used when REDIS_URL is unset, and by
// tests. A bounded channel carries envelopes; Publish blocks when the
// channel is full, which gives natural backpressure for single-process
// deployments. Delivery semantics match RedisQueue: the publish guard on
// (session, batch index) suppresses only a republish by the same job and
// expires after DedupTTL, and handler errors trigger bounded redelivery.
type MemoryQueue struct {
	items  chan envelope
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]dedupEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// dedupEntry records which job last claimed a (session, batch index) slot.
type dedupEntry struct {
	jobID     string
	expiresAt time.Time
}

func NewMemoryQueue(opts Options, logger *slog.Logger) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &MemoryQueue{
		items:  make(chan envelope, 256),
		opts:   opts.withDefaults(),
		logger: logger,
		seen:   make(map[string]dedupEntry),
		stop:   make(chan struct{}),
	}
	go q.janitor()
	return q
}

var _ core.JobQueue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Publish(ctx context.Context, batch *models.Batch) error {
	guard := fmt.Sprintf("%s:%d", batch.SessionID, batch.BatchIndex)
	now := time.Now()
	q.mu.Lock()
	if e, ok := q.seen[guard]; ok && now.Before(e.expiresAt) && e.jobID == batch.JobID {
		q.mu.Unlock()
		q.logger.Debug("duplicate batch publish suppressed",
			"job_id", batch.JobID, "session_id", batch.SessionID, "batch_index", batch.BatchIndex)
		return nil
	}
	// Fresh slot, an expired guard, or a different job reusing the slot:
	// claim it and publish.
	q.seen[guard] = dedupEntry{jobID: batch.JobID, expiresAt: now.Add(q.opts.DedupTTL)}
	q.mu.Unlock()

	select {
	case q.items <- envelope{Batch: *batch, Attempts: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// janitor sweeps expired dedup guards so long-lived processes do not
// accumulate one entry per batch ever published.
func (q *MemoryQueue) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			now := time.Now()
			q.mu.Lock()
			for guard, e := range q.seen {
				if now.After(e.expiresAt) {
					delete(q.seen, guard)
				}
			}
			q.mu.Unlock()
		}
	}
}

// Consume blocks draining the queue until ctx is done.
func (q *MemoryQueue) Consume(ctx context.Context, handler core.BatchHandler) error {
	pool, err := ants.NewPool(q.opts.Workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-q.items:
			submitErr := pool.Submit(func() {
				q.deliver(ctx, handler, env)
			})
			if submitErr != nil {
				q.logger.Error("worker pool rejected batch",
					"job_id", env.Batch.JobID, "batch_index", env.Batch.BatchIndex, "error", submitErr)
			}
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, handler core.BatchHandler, env envelope) {
	if err := handler(ctx, &env.Batch); err != nil {
		q.logger.Warn("batch delivery failed",
			"job_id", env.Batch.JobID, "batch_index", env.Batch.BatchIndex,
			"attempt", env.Attempts, "error", err)
		if env.Attempts < q.opts.MaxAttempts {
			env.Attempts++
			select {
			case q.items <- env:
			case <-ctx.Done():
			}
		} else {
			q.logger.Error("batch dropped after max delivery attempts",
				"job_id", env.Batch.JobID, "batch_index", env.Batch.BatchIndex)
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	return nil
}
