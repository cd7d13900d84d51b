package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

// MemoryStore is the single-process job store used when REDIS_URL is unset,
// and by tests. Same semantics as RedisStore: per-batch-index accounting,
// idempotent terminal status, TTL expiry via a janitor goroutine.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

type memoryJob struct {
	job       models.IngestionJob
	sections  map[int]models.Section
	done      map[int]bool
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		jobs: make(map[string]*memoryJob),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go s.janitor()
	return s
}

var _ core.JobStore = (*MemoryStore)(nil)

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, rec := range s.jobs {
				if now.After(rec.expiresAt) {
					delete(s.jobs, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

// get returns the live record for id, treating expired records as missing.
// Caller must hold s.mu.
func (s *MemoryStore) get(id string) *memoryJob {
	rec, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if time.Now().After(rec.expiresAt) {
		delete(s.jobs, id)
		return nil
	}
	return rec
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &memoryJob{
		job:       *job,
		sections:  make(map[int]models.Section),
		done:      make(map[int]bool),
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) PutSection(ctx context.Context, jobID string, section models.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(jobID)
	if rec == nil {
		return core.ErrJobNotFound
	}
	rec.sections[section.BatchIndex] = section
	return nil
}

func (s *MemoryStore) RecordBatchResult(ctx context.Context, jobID string, batchIndex int, succeeded bool) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(jobID)
	if rec == nil {
		return 0, false, core.ErrJobNotFound
	}
	if _, seen := rec.done[batchIndex]; seen {
		return rec.job.CompletedBatches, false, nil
	}
	rec.done[batchIndex] = succeeded
	rec.job.CompletedBatches++
	if !succeeded {
		rec.job.FailedBatches++
	}
	return rec.job.CompletedBatches, true, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(jobID)
	if rec == nil {
		return core.ErrJobNotFound
	}
	rec.job.Status = status
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(jobID)
	if rec == nil {
		return nil, core.ErrJobNotFound
	}
	job := rec.job
	return &job, nil
}

func (s *MemoryStore) GetSections(ctx context.Context, jobID string) ([]models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.get(jobID)
	if rec == nil {
		return nil, core.ErrJobNotFound
	}
	sections := make([]models.Section, 0, len(rec.sections))
	for _, sec := range rec.sections {
		sections = append(sections, sec)
	}
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].BatchIndex < sections[j].BatchIndex
	})
	return sections, nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}
