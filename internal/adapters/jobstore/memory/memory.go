// Package memory keeps job records in process memory. Records vanish on
// restart, which matches the lifetime of the artifacts they describe.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

type record struct {
	job     v1.Job
	expires time.Time
}

// Store implements ports.JobStore.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]record
	now  func() time.Time
}

func New() *Store {
	return &Store{jobs: make(map[string]record), now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Put(_ context.Context, job v1.Job, ttl time.Duration) error {
	if job.ID == "" {
		return errors.Validation("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = record{job: job, expires: s.now().Add(ttl)}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (v1.Job, error) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return v1.Job{}, errors.NotFound("job", id)
	}
	if !s.now().Before(rec.expires) {
		s.mu.Lock()
		// A concurrent Put may have refreshed the record.
		if cur, ok := s.jobs[id]; ok && !s.now().Before(cur.expires) {
			delete(s.jobs, id)
		}
		s.mu.Unlock()
		return v1.Job{}, errors.NotFound("job", id)
	}
	return rec.job, nil
}

func (s *Store) List(_ context.Context, filter ports.JobFilter) ([]v1.Job, error) {
	now := s.now()

	s.mu.Lock()
	out := make([]v1.Job, 0, len(s.jobs))
	for id, rec := range s.jobs {
		if !now.Before(rec.expires) {
			delete(s.jobs, id)
			continue
		}
		if filter.Status != "" && rec.job.Status != filter.Status {
			continue
		}
		out = append(out, rec.job)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// Purge drops every expired record and reports how many went.
func (s *Store) Purge() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.jobs {
		if !now.Before(rec.expires) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }
