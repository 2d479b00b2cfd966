// Package worker bounds how many renders run and wait at once.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/worker/processor"
)

// Stats is a snapshot of the admission state.
type Stats struct {
	Workers  int
	Capacity int
	Running  int
	Queued   int
}

// Pool admits at most Workers+QueueDepth jobs. Admitted jobs wait in FIFO
// order for one of Workers slots; anything past capacity is rejected
// immediately with OVERLOADED.
type Pool struct {
	renderer Renderer
	workers  int
	capacity int
	tickets  *semaphore.Weighted
	slots    *semaphore.Weighted
	log      *logger.Logger

	running atomic.Int64
	queued  atomic.Int64

	mu     sync.Mutex
	closed bool
	forced bool
	active map[string]context.CancelCauseFunc
	wg     sync.WaitGroup
}

func New(d Deps) *Pool {
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	depth := d.QueueDepth
	if depth < 0 {
		depth = 0
	}
	capacity := workers + depth

	return &Pool{
		renderer: d.Renderer,
		workers:  workers,
		capacity: capacity,
		tickets:  semaphore.NewWeighted(int64(capacity)),
		slots:    semaphore.NewWeighted(int64(workers)),
		log:      logger.OrDiscard(d.Log).WithComponent("pool"),
		active:   make(map[string]context.CancelCauseFunc),
	}
}

// Admission is a reserved place in the pool. Exactly one of Run or Cancel
// must be called on it.
type Admission struct {
	pool     *Pool
	id       string
	spec     *jobspec.JobSpec
	deadline time.Time
	once     sync.Once
}

func (a *Admission) ID() string          { return a.id }
func (a *Admission) Deadline() time.Time { return a.deadline }

// Admit reserves a ticket without blocking. The job deadline starts now,
// so time spent queued counts against it.
func (p *Pool) Admit(jobID string, spec *jobspec.JobSpec) (*Admission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New(errors.CodeUnavailable, "service shutting down").
			WithField("service", "render pool")
	}
	if !p.tickets.TryAcquire(1) {
		p.log.Warn("admission rejected", "job_id", jobID, "capacity", p.capacity)
		return nil, errors.Overloaded(p.capacity)
	}
	p.wg.Add(1)

	return &Admission{
		pool:     p,
		id:       jobID,
		spec:     spec,
		deadline: time.Now().Add(spec.Timeout()),
	}, nil
}

// Cancel gives the ticket back without running the job.
func (a *Admission) Cancel() {
	a.once.Do(a.pool.releaseTicket)
}

// Run waits for a worker slot and renders the job. A deadline that passes
// while queued yields TimedOut and a cancelled ctx yields Cancelled, in
// both cases without spawning anything.
func (a *Admission) Run(ctx context.Context, hooks processor.Hooks) *processor.Handle {
	p := a.pool
	defer a.once.Do(p.releaseTicket)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	p.track(a.id, cancel)
	defer p.untrack(a.id)

	waitCtx, stopWait := context.WithDeadlineCause(ctx, a.deadline, processor.ErrDeadline)
	defer stopWait()

	p.queued.Add(1)
	err := p.slots.Acquire(waitCtx, 1)
	p.queued.Add(-1)
	if err != nil {
		reason := processor.ReasonOf(waitCtx)
		p.log.Info("job left the queue before starting", "job_id", a.id, "reason", string(reason))
		return processor.Aborted(a.id, a.spec, a.deadline, reason)
	}
	defer p.slots.Release(1)

	p.running.Add(1)
	defer p.running.Add(-1)

	return p.renderer.Render(ctx, a.id, a.spec, a.deadline, hooks)
}

// Submit admits and runs spec in the caller's goroutine.
func (p *Pool) Submit(ctx context.Context, jobID string, spec *jobspec.JobSpec, hooks processor.Hooks) (*processor.Handle, error) {
	a, err := p.Admit(jobID, spec)
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, hooks), nil
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:  p.workers,
		Capacity: p.capacity,
		Running:  int(p.running.Load()),
		Queued:   int(p.queued.Load()),
	}
}

// Close stops admissions and waits for admitted jobs. Whatever is still
// running when ctx ends is cancelled with ErrShutdown, which sends it down
// the normal termination path; Close then waits for that cleanup.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("pool drained")
		return nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	p.forced = true
	n := len(p.active)
	for _, cancel := range p.active {
		cancel(processor.ErrShutdown)
	}
	p.mu.Unlock()

	p.log.Warn("grace period over, cancelling in-flight jobs", "jobs", n)
	<-done
	return fmt.Errorf("pool closed with %d jobs cancelled", n)
}

func (p *Pool) releaseTicket() {
	p.tickets.Release(1)
	p.wg.Done()
}

func (p *Pool) track(id string, cancel context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[id] = cancel
	if p.forced {
		cancel(processor.ErrShutdown)
	}
}

func (p *Pool) untrack(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}
