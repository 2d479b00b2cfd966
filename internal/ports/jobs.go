package ports

import (
	"context"
	"time"

	v1 "mediarender/internal/contracts/render/v1"
)

// JobFilter narrows JobStore.List.
type JobFilter struct {
	Status v1.JobStatus
	// Limit 0 means no limit.
	Limit int
}

// JobStore keeps asynchronous job records for their retention window.
// Implementations: memory, redis.
type JobStore interface {
	Put(ctx context.Context, job v1.Job, ttl time.Duration) error
	// Get returns a NOT_FOUND error for unknown or expired ids.
	Get(ctx context.Context, id string) (v1.Job, error)
	// List returns newest first.
	List(ctx context.Context, filter JobFilter) ([]v1.Job, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Notifier announces terminal job outcomes to other systems.
type Notifier interface {
	Notify(ctx context.Context, job v1.Job) error
	Close() error
}
