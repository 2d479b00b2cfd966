package jobs

import (
	"sync"

	v1 "mediarender/internal/contracts/render/v1"
)

// EventBus fans job snapshots out to live subscribers, keyed by job id.
type EventBus struct {
	subscribers map[string][]chan v1.Job
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan v1.Job),
	}
}

func (eb *EventBus) Subscribe(jobID string) chan v1.Job {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan v1.Job, 16)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(jobID string, ch chan v1.Job) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

// Publish never blocks. A slow subscriber misses intermediate progress
// but terminal snapshots are retried by evicting the oldest queued one.
func (eb *EventBus) Publish(job v1.Job) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[job.ID] {
		select {
		case ch <- job:
			continue
		default:
		}
		if !job.Status.Terminal() {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- job:
		default:
		}
	}
}

// Subscribers counts live subscriptions for a job.
func (eb *EventBus) Subscribers(jobID string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[jobID])
}
