package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Finlytic/internal/models"
)

func testBatch(idx int) *models.Batch {
	return &models.Batch{
		JobID:      "job-1",
		SessionID:  "sess-1",
		BatchIndex: idx,
		StartPage:  idx*50 + 1,
		EndPage:    (idx + 1) * 50,
		TotalPages: 200,
	}
}

func TestMemoryQueue_DeliversAllBatches(t *testing.T) {
	q := NewMemoryQueue(Options{Workers: 4, MaxAttempts: 3}, nil)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := make(map[int]int)
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, b *models.Batch) error {
			mu.Lock()
			got[b.BatchIndex]++
			mu.Unlock()
			wg.Done()
			return nil
		})
	}()

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Publish(ctx, testBatch(i)))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 4)
	for i := 0; i < 4; i++ {
		assert.Equal(t, 1, got[i], "batch %d delivered wrong number of times", i)
	}
}

func TestMemoryQueue_DedupsSameJobRepublish(t *testing.T) {
	q := NewMemoryQueue(Options{Workers: 1, MaxAttempts: 3}, nil)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, testBatch(0)))
	require.NoError(t, q.Publish(ctx, testBatch(0))) // suppressed
	require.NoError(t, q.Publish(ctx, testBatch(1)))

	assert.Equal(t, 2, len(q.items))
}

// A second document uploaded to the same session runs under a new job. Its
// batches reuse the (session, batch index) slots and must still be delivered.
func TestMemoryQueue_NewJobSameSessionNotSuppressed(t *testing.T) {
	q := NewMemoryQueue(Options{Workers: 1, MaxAttempts: 3}, nil)
	defer q.Close()
	ctx := context.Background()

	first := testBatch(0)
	require.NoError(t, q.Publish(ctx, first))

	second := testBatch(0)
	second.JobID = "job-2"
	require.NoError(t, q.Publish(ctx, second))
	assert.Equal(t, 2, len(q.items))

	// The guard now belongs to job-2, so its own republish is suppressed.
	require.NoError(t, q.Publish(ctx, second))
	assert.Equal(t, 2, len(q.items))
}

func TestMemoryQueue_DedupGuardExpires(t *testing.T) {
	q := NewMemoryQueue(Options{Workers: 1, MaxAttempts: 3, DedupTTL: 20 * time.Millisecond}, nil)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, testBatch(0)))
	require.NoError(t, q.Publish(ctx, testBatch(0)))
	assert.Equal(t, 1, len(q.items))

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, q.Publish(ctx, testBatch(0)))
	assert.Equal(t, 2, len(q.items))
}

func TestMemoryQueue_RedeliversUpToMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(Options{Workers: 1, MaxAttempts: 3}, nil)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deliveries atomic.Int32
	done := make(chan struct{})

	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, b *models.Batch) error {
			if deliveries.Add(1) == 3 {
				close(done)
			}
			return errors.New("boom")
		})
	}()

	require.NoError(t, q.Publish(ctx, testBatch(0)))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch was not redelivered")
	}

	// Give the queue a moment to prove it stops at the ceiling.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), deliveries.Load())
}

func TestMemoryQueue_ConsumeStopsOnContextCancel(t *testing.T) {
	q := NewMemoryQueue(Options{Workers: 1, MaxAttempts: 1}, nil)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Consume(ctx, func(ctx context.Context, b *models.Batch) error { return nil })
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}
