package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// In-memory doubles for the pipeline's infrastructure edges. Job state in
// these tests uses the real memory-backed store from the jobstore package;
// only the external services are faked here.

type fakeObjects struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{files: make(map[string][]byte)}
}

func (f *fakeObjects) put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[bucket+"/"+key] = data
}

func (f *fakeObjects) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	f.put(bucket, key, data)
	return "https://fake/" + bucket + "/" + key, nil
}

func (f *fakeObjects) DeleteFile(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, bucket+"/"+key)
	return nil
}

func (f *fakeObjects) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	data, ok := f.files[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no such object %s/%s", bucket, key)
	}
	return data, nil
}

func (f *fakeObjects) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type fakeQueue struct {
	mu        sync.Mutex
	published []*models.Batch
	failAfter int // publishes to accept before failing; -1 never fails
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAfter: -1}
}

func (q *fakeQueue) Publish(ctx context.Context, batch *models.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAfter >= 0 && len(q.published) >= q.failAfter {
		return errors.New("queue unavailable")
	}
	q.published = append(q.published, batch)
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, handler core.BatchHandler) error {
	<-ctx.Done()
	return nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) batches() []*models.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.Batch(nil), q.published...)
}

// fakeExtractor returns scripted errors for the first failures deliveries,
// then a page-labeled body for the requested range.
type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	empty    bool
}

func (e *fakeExtractor) ExtractPages(ctx context.Context, data []byte, contentType string, startPage, endPage int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		if e.err != nil {
			return "", e.err
		}
		return "", errors.New("extraction glitch")
	}
	if e.empty {
		return "", nil
	}
	return fmt.Sprintf("=== PAGE %d ===\ntext for pages %d through %d", startPage, startPage, endPage), nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	texts []string
	fail  error
	dim   int
}

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	e.texts = append(e.texts, texts...)
	dim := e.dim
	if dim == 0 {
		dim = 4
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, dim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

type fakeVectors struct {
	mu      sync.Mutex
	records map[string]models.VectorRecord
	fail    error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{records: make(map[string]models.VectorRecord)}
}

func (v *fakeVectors) UpsertVectors(ctx context.Context, records []models.VectorRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fail != nil {
		return v.fail
	}
	for _, r := range records {
		v.records[r.ID] = r
	}
	return nil
}

func (v *fakeVectors) SearchSession(ctx context.Context, sessionID string, queryVec []float32, limit int) ([]models.VectorRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.VectorRecord
	for _, r := range v.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *fakeVectors) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.records)
}
