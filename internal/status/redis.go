package status

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/models"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "obsingest:run:"

// RedisStore keeps a snapshot of each task's latest run in a hash that expires
// after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(task string) string {
	return redisKeyPrefix + task
}

func (s *RedisStore) Record(ctx context.Context, rec models.RunRecord) error {
	key := redisKey(rec.Task)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeRecord(rec))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record run %s: %w", rec.Task, err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, task string) (models.RunRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(task)).Result()
	if err != nil {
		return models.RunRecord{}, false, fmt.Errorf("redis read run %s: %w", task, err)
	}
	if len(fields) == 0 {
		return models.RunRecord{}, false, nil
	}
	rec, err := decodeRecord(fields)
	if err != nil {
		return models.RunRecord{}, false, fmt.Errorf("redis decode run %s: %w", task, err)
	}
	return rec, true, nil
}

func encodeRecord(rec models.RunRecord) map[string]interface{} {
	return map[string]interface{}{
		"run_id":          rec.RunID,
		"task":            rec.Task,
		"started_at":      rec.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":     rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		"outcome":         string(rec.Outcome),
		"schedules":       rec.Schedules,
		"published":       rec.Published,
		"already_existed": rec.AlreadyExisted,
		"skipped":         rec.Skipped,
		"error":           rec.Error,
	}
}

func decodeRecord(fields map[string]string) (models.RunRecord, error) {
	rec := models.RunRecord{
		RunID:   fields["run_id"],
		Task:    fields["task"],
		Outcome: models.RunOutcome(fields["outcome"]),
		Error:   fields["error"],
	}
	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, fields["started_at"]); err != nil {
		return rec, fmt.Errorf("started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, fields["finished_at"]); err != nil {
		return rec, fmt.Errorf("finished_at: %w", err)
	}
	for name, dst := range map[string]*int{
		"schedules":       &rec.Schedules,
		"published":       &rec.Published,
		"already_existed": &rec.AlreadyExisted,
		"skipped":         &rec.Skipped,
	} {
		if *dst, err = strconv.Atoi(fields[name]); err != nil {
			return rec, fmt.Errorf("%s: %w", name, err)
		}
	}
	return rec, nil
}
