// Package redisstore keeps job records in Redis so several renderd
// instances behind one balancer can answer status queries for each other.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

// Store implements ports.JobStore.
//
// Layout:
//   - {prefix}job:{id}  JSON record with the retention as TTL
//   - {prefix}jobs      sorted set of ids scored by creation time
//
// Index members whose record expired are removed lazily by List.
type Store struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }
func (s *Store) indexKey() string        { return s.prefix + "jobs" }

func (s *Store) Put(ctx context.Context, job v1.Job, ttl time.Duration) error {
	if job.ID == "" {
		return errors.Validation("job id is required")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "redisstore.put", "encode job")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.ID), data, ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(job.CreatedAt.UnixMilli()),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.put", "write job record")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (v1.Job, error) {
	data, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if err == redis.Nil {
		return v1.Job{}, errors.NotFound("job", id)
	}
	if err != nil {
		return v1.Job{}, errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.get", "read job record")
	}

	var job v1.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return v1.Job{}, errors.Wrap(err, "redisstore.get", "decode job record")
	}
	return job, nil
}

func (s *Store) List(ctx context.Context, filter ports.JobFilter) ([]v1.Job, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.list", "read job index")
	}
	if len(ids) == 0 {
		return []v1.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.list", "read job records")
	}

	out := make([]v1.Job, 0, len(ids))
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var job v1.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}

	if len(stale) > 0 {
		// Best effort; the next List retries.
		_ = s.rdb.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.jobKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redisstore.delete", "delete job record")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
