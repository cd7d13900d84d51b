package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/core/jobstore"
	"github.com/markdave123-py/Finlytic/internal/models"
)

func dispatcherTestConfig() *IngestConfig {
	cfg := DefaultIngestConfig()
	cfg.PublishRetries = 0
	return cfg
}

// 200KB of non-PDF bytes estimate to 4 pages, so a 50-page batch size plans
// a single batch. The ratio path keeps these tests off real PDFs.
func sourceOfPages(pages int) []byte {
	return []byte(strings.Repeat("x", pages*50*1024))
}

func TestDispatcher_PlansCreatesAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore(time.Minute)
	defer store.Close()
	queue := newFakeQueue()
	objects := newFakeObjects()
	objects.put("docs", "sess-1/report.pdf", sourceOfPages(200))

	d := NewDispatcher(store, queue, objects, dispatcherTestConfig(), testLogger())
	src := models.SourceRef{Bucket: "docs", Key: "sess-1/report.pdf", Filename: "report.pdf", ContentType: "application/octet-stream"}
	job, err := d.StartJob(ctx, src, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, 4, job.TotalBatches)
	assert.Equal(t, 200, job.EstimatedPages)
	assert.Equal(t, models.StatusProcessing, job.Status)

	published := queue.batches()
	require.Len(t, published, 4)
	for i, b := range published {
		assert.Equal(t, job.ID, b.JobID)
		assert.Equal(t, i, b.BatchIndex)
		assert.Equal(t, i*50+1, b.StartPage)
		assert.Equal(t, "sess-1", b.SessionID)
	}
	assert.Equal(t, 200, published[3].EndPage)

	snap, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TotalBatches)
}

func TestDispatcher_MissingSourceFails(t *testing.T) {
	store := jobstore.NewMemoryStore(time.Minute)
	defer store.Close()
	d := NewDispatcher(store, newFakeQueue(), newFakeObjects(), dispatcherTestConfig(), testLogger())

	_, err := d.StartJob(context.Background(), models.SourceRef{Bucket: "docs", Key: "nope"}, "sess-1")
	require.Error(t, err)
}

// A publish that fails after retries is recorded as a failed batch so the
// job can still reach its terminal count without that batch's worker.
func TestDispatcher_PartialPublishRecordsFailures(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore(time.Minute)
	defer store.Close()
	queue := newFakeQueue()
	queue.failAfter = 3
	objects := newFakeObjects()
	objects.put("docs", "sess-1/report.pdf", sourceOfPages(200))

	d := NewDispatcher(store, queue, objects, dispatcherTestConfig(), testLogger())
	src := models.SourceRef{Bucket: "docs", Key: "sess-1/report.pdf", Filename: "report.pdf", ContentType: "application/octet-stream"}
	job, err := d.StartJob(ctx, src, "sess-1")
	require.NoError(t, err)

	snap, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TotalBatches)
	assert.Equal(t, 1, snap.CompletedBatches)
	assert.Equal(t, 1, snap.FailedBatches)
	assert.Len(t, queue.batches(), 3)
}

// inlineQueue finishes every published batch's accounting before Publish
// returns, the way a worker racing ahead of StartJob would, and fails the
// publish at failAt.
type inlineQueue struct {
	store  core.JobStore
	failAt int
	total  int
}

func (q *inlineQueue) Publish(ctx context.Context, b *models.Batch) error {
	if b.BatchIndex == q.failAt {
		return errors.New("queue unavailable")
	}
	completed, _, err := q.store.RecordBatchResult(ctx, b.JobID, b.BatchIndex, true)
	if err != nil {
		return err
	}
	if completed >= q.total {
		return q.store.SetStatus(ctx, b.JobID, models.StatusComplete)
	}
	return nil
}

func (q *inlineQueue) Consume(ctx context.Context, handler core.BatchHandler) error {
	<-ctx.Done()
	return nil
}

func (q *inlineQueue) Close() error { return nil }

// When every worker has already reported and the final accounting entry is a
// failed publish, StartJob itself must flip the job to complete; nothing else
// will run for that job afterwards.
func TestDispatcher_FailedPublishLandingLastCompletesJob(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore(time.Minute)
	defer store.Close()
	objects := newFakeObjects()
	objects.put("docs", "sess-1/report.pdf", sourceOfPages(200))
	queue := &inlineQueue{store: store, failAt: 3, total: 4}

	d := NewDispatcher(store, queue, objects, dispatcherTestConfig(), testLogger())
	src := models.SourceRef{Bucket: "docs", Key: "sess-1/report.pdf", Filename: "report.pdf", ContentType: "application/octet-stream"}
	job, err := d.StartJob(ctx, src, "sess-1")
	require.NoError(t, err)

	snap, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, snap.Status)
	assert.Equal(t, 4, snap.CompletedBatches)
	assert.Equal(t, 1, snap.FailedBatches)
}

// captureStore records the IDs CreateJob sees, so the error path (which
// returns no job) can still be inspected.
type captureStore struct {
	*jobstore.MemoryStore
	created []string
}

func (c *captureStore) CreateJob(ctx context.Context, job *models.IngestionJob) error {
	c.created = append(c.created, job.ID)
	return c.MemoryStore.CreateJob(ctx, job)
}

func TestDispatcher_NoPublishesMarksJobErrored(t *testing.T) {
	ctx := context.Background()
	store := &captureStore{MemoryStore: jobstore.NewMemoryStore(time.Minute)}
	defer store.Close()
	queue := newFakeQueue()
	queue.failAfter = 0
	objects := newFakeObjects()
	objects.put("docs", "sess-1/tiny.txt", []byte("short text document"))

	d := NewDispatcher(store, queue, objects, dispatcherTestConfig(), testLogger())
	src := models.SourceRef{Bucket: "docs", Key: "sess-1/tiny.txt", Filename: "tiny.txt", ContentType: "text/plain"}
	job, err := d.StartJob(ctx, src, "sess-1")
	require.Error(t, err)
	assert.Nil(t, job)

	// The errored record is left behind for the stream to observe.
	require.Len(t, store.created, 1)
	snap, err := store.GetJob(ctx, store.created[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, snap.Status)
}
