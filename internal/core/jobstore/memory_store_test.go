package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(time.Minute)
	t.Cleanup(s.Close)
	return s
}

func createJob(t *testing.T, s *MemoryStore, total int) string {
	t.Helper()
	jobID := fmt.Sprintf("job-%d", time.Now().UnixNano())
	err := s.CreateJob(context.Background(), &models.IngestionJob{
		ID:           jobID,
		SessionID:    "sess-1",
		Filename:     "report.pdf",
		TotalBatches: total,
		Status:       models.StatusProcessing,
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	return jobID
}

func TestRecordBatchResult_ConcurrentNoLostUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 64
	jobID := createJob(t, s, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, first, err := s.RecordBatchResult(ctx, jobID, idx, true)
			assert.NoError(t, err)
			assert.True(t, first)
		}(i)
	}
	wg.Wait()

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, n, job.CompletedBatches)
	assert.Equal(t, 0, job.FailedBatches)
}

func TestRecordBatchResult_DuplicateDeliveryCountsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := createJob(t, s, 4)

	completed, first, err := s.RecordBatchResult(ctx, jobID, 2, true)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 1, completed)

	// Redelivered batch: counters must not move again.
	completed, first, err = s.RecordBatchResult(ctx, jobID, 2, true)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, 1, completed)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.CompletedBatches)
}

func TestRecordBatchResult_FailureCountsTowardCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := createJob(t, s, 4)

	for i := 0; i < 3; i++ {
		_, _, err := s.RecordBatchResult(ctx, jobID, i, true)
		require.NoError(t, err)
	}
	completed, first, err := s.RecordBatchResult(ctx, jobID, 3, false)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 4, completed)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 4, job.CompletedBatches)
	assert.Equal(t, 1, job.FailedBatches)
}

func TestSetStatus_CompleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := createJob(t, s, 1)

	require.NoError(t, s.SetStatus(ctx, jobID, models.StatusComplete))
	first, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, jobID, models.StatusComplete))
	second, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, models.StatusComplete, second.Status)
}

func TestPutSection_OverwritesByBatchIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := createJob(t, s, 3)

	// Out-of-order writes, one overwrite.
	require.NoError(t, s.PutSection(ctx, jobID, models.Section{BatchIndex: 2, StartPage: 101, EndPage: 150, Text: "third"}))
	require.NoError(t, s.PutSection(ctx, jobID, models.Section{BatchIndex: 0, StartPage: 1, EndPage: 50, Text: "stale"}))
	require.NoError(t, s.PutSection(ctx, jobID, models.Section{BatchIndex: 0, StartPage: 1, EndPage: 50, Text: "first"}))

	sections, err := s.GetSections(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "first", sections[0].Text)
	assert.Equal(t, "third", sections[1].Text)
	assert.Equal(t, 0, sections[0].BatchIndex)
	assert.Equal(t, 2, sections[1].BatchIndex)
}

func TestExpiredJobBehavesAsDeleted(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	t.Cleanup(s.Close)
	ctx := context.Background()
	jobID := createJob(t, s, 1)

	time.Sleep(30 * time.Millisecond)

	_, err := s.GetJob(ctx, jobID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, jobID, models.StatusComplete), core.ErrJobNotFound)
}

func TestDeleteJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := createJob(t, s, 1)

	require.NoError(t, s.DeleteJob(ctx, jobID))
	_, err := s.GetJob(ctx, jobID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	// Deleting a missing job is harmless.
	assert.NoError(t, s.DeleteJob(ctx, jobID))
}
