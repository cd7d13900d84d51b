package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

// RedisStore keeps each job as one Redis hash.
//
// Scalar fields hold the counters and metadata; "section:<idx>" fields hold
// worker output keyed by batch index, and "done:<idx>" fields guard the
// counters so a redelivered batch is counted at most once. HIncrBy gives the
// no-lost-updates guarantee under concurrent workers, and the key TTL makes
// crashed jobs expire on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

var _ core.JobStore = (*RedisStore)(nil)

func jobKey(jobID string) string {
	return "finlytic:job:" + jobID
}

func (s *RedisStore) CreateJob(ctx context.Context, job *models.IngestionJob) error {
	key := jobKey(job.ID)
	fields := map[string]interface{}{
		"session_id":      job.SessionID,
		"filename":        job.Filename,
		"total":           job.TotalBatches,
		"completed":       0,
		"failed":          0,
		"status":          string(job.Status),
		"estimated_pages": job.EstimatedPages,
		"created_at":      job.CreatedAt.Format(time.RFC3339Nano),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) PutSection(ctx context.Context, jobID string, section models.Section) error {
	data, err := json.Marshal(section)
	if err != nil {
		return fmt.Errorf("marshal section: %w", err)
	}
	field := fmt.Sprintf("section:%d", section.BatchIndex)
	if err := s.client.HSet(ctx, jobKey(jobID), field, data).Err(); err != nil {
		return fmt.Errorf("put section %d on job %s: %w", section.BatchIndex, jobID, err)
	}
	return nil
}

func (s *RedisStore) RecordBatchResult(ctx context.Context, jobID string, batchIndex int, succeeded bool) (int, bool, error) {
	key := jobKey(jobID)

	outcome := "ok"
	if !succeeded {
		outcome = "failed"
	}

	// HSetNX decides whether this batch index was already accounted for;
	// only the first writer moves the counters.
	first, err := s.client.HSetNX(ctx, key, fmt.Sprintf("done:%d", batchIndex), outcome).Result()
	if err != nil {
		return 0, false, fmt.Errorf("mark batch %d on job %s: %w", batchIndex, jobID, err)
	}

	if !first {
		raw, err := s.client.HGet(ctx, key, "completed").Result()
		if err != nil {
			return 0, false, fmt.Errorf("read completed count on job %s: %w", jobID, err)
		}
		completed, _ := strconv.Atoi(raw)
		return completed, false, nil
	}

	completed, err := s.client.HIncrBy(ctx, key, "completed", 1).Result()
	if err != nil {
		return 0, true, fmt.Errorf("increment completed on job %s: %w", jobID, err)
	}
	if !succeeded {
		if err := s.client.HIncrBy(ctx, key, "failed", 1).Err(); err != nil {
			return int(completed), true, fmt.Errorf("increment failed on job %s: %w", jobID, err)
		}
	}
	return int(completed), true, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	key := jobKey(jobID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check job %s: %w", jobID, err)
	}
	if exists == 0 {
		return core.ErrJobNotFound
	}
	if err := s.client.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return fmt.Errorf("set status on job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, core.ErrJobNotFound
	}

	job := &models.IngestionJob{
		ID:        jobID,
		SessionID: fields["session_id"],
		Filename:  fields["filename"],
		Status:    models.JobStatus(fields["status"]),
	}
	job.TotalBatches, _ = strconv.Atoi(fields["total"])
	job.CompletedBatches, _ = strconv.Atoi(fields["completed"])
	job.FailedBatches, _ = strconv.Atoi(fields["failed"])
	job.EstimatedPages, _ = strconv.Atoi(fields["estimated_pages"])
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	return job, nil
}

func (s *RedisStore) GetSections(ctx context.Context, jobID string) ([]models.Section, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get sections for job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, core.ErrJobNotFound
	}

	var sections []models.Section
	for field, raw := range fields {
		if !strings.HasPrefix(field, "section:") {
			continue
		}
		var sec models.Section
		if err := json.Unmarshal([]byte(raw), &sec); err != nil {
			return nil, fmt.Errorf("decode %s on job %s: %w", field, jobID, err)
		}
		sections = append(sections, sec)
	}

	// Presentation order is batch order, not append order.
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].BatchIndex < sections[j].BatchIndex
	})
	return sections, nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}
