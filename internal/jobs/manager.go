// Package jobs runs renders in the background and keeps their records for
// the retention window so clients can poll, stream and download them.
package jobs

import (
	"context"
	"net/http"
	"sync"
	"time"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/ports"
	"mediarender/internal/publish"
	"mediarender/internal/worker"
	"mediarender/internal/worker/processor"
	"mediarender/internal/worker/util"
)

const storeTimeout = 5 * time.Second

// Admitter reserves pool capacity. *worker.Pool implements it.
type Admitter interface {
	Admit(jobID string, spec *jobspec.JobSpec) (*worker.Admission, error)
}

type Deps struct {
	Pool      Admitter
	Publisher *publish.Publisher
	Store     ports.JobStore
	// Notifier is optional.
	Notifier  ports.Notifier
	Retention time.Duration
	Log       *logger.Logger
}

// entry is the in-process side of a job: the parts that cannot live in the
// store, such as the cancel func and the artifact handle.
type entry struct {
	job      v1.Job
	cancel   context.CancelCauseFunc
	handle   *processor.Handle
	done     chan struct{}
	finished time.Time
}

type Manager struct {
	pool      Admitter
	publisher *publish.Publisher
	store     ports.JobStore
	notifier  ports.Notifier
	bus       *EventBus
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time

	mu   sync.Mutex
	live map[string]*entry
	wg   sync.WaitGroup
}

func NewManager(d Deps) *Manager {
	retention := d.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	return &Manager{
		pool:      d.Pool,
		publisher: d.Publisher,
		store:     d.Store,
		notifier:  d.Notifier,
		bus:       NewEventBus(),
		retention: retention,
		log:       logger.OrDiscard(d.Log).WithComponent("jobs"),
		now:       time.Now,
		live:      make(map[string]*entry),
	}
}

func (m *Manager) Bus() *EventBus { return m.bus }

// Submit admits spec and starts it in the background. Admission failures
// (OVERLOADED, UNAVAILABLE) are returned synchronously.
func (m *Manager) Submit(ctx context.Context, spec *jobspec.JobSpec) (v1.Job, error) {
	id := util.NewID("job")

	adm, err := m.pool.Admit(id, spec)
	if err != nil {
		return v1.Job{}, err
	}

	job := v1.Job{
		ID:           id,
		Status:       v1.JobQueued,
		Input:        spec.Input().Ref(),
		OutputFormat: spec.Format().Name,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.store.Put(ctx, job, m.retention); err != nil {
		adm.Cancel()
		return v1.Job{}, errors.WrapWithCode(err, errors.CodeUnavailable, "jobs.submit", "job store unavailable")
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	runCtx = logger.ContextWithJobID(runCtx, id)
	e := &entry{job: job, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.live[id] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx, adm, e)

	m.log.Info("job submitted", "job_id", id, "format", job.OutputFormat)
	return job, nil
}

func (m *Manager) run(ctx context.Context, adm *worker.Admission, e *entry) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel(nil)

	h := adm.Run(ctx, processor.Hooks{
		OnStart: func(int) {
			m.update(e, func(j *v1.Job) {
				now := m.now().UTC()
				j.Status = v1.JobRunning
				j.StartedAt = &now
			})
		},
		OnProgress: func(f float64) {
			m.update(e, func(j *v1.Job) { j.Progress = f })
		},
	})

	res := h.Result()
	final := m.update(e, func(j *v1.Job) {
		e.handle = h
		e.finished = m.now()
		now := e.finished.UTC()
		j.FinishedAt = &now
		j.Status = statusOf(h.State())
		if res.Err != nil {
			j.Error = &v1.JobError{
				Code:    string(res.Err.Code),
				Kind:    string(res.Err.Kind()),
				Message: res.Err.Message,
			}
			return
		}
		j.Progress = 1
		expires := now.Add(m.retention)
		j.ExpiresAt = &expires
		j.Artifact = &v1.ArtifactRef{
			Filename:        res.Artifact.Filename,
			ContentType:     res.Artifact.ContentType,
			SizeBytes:       res.Artifact.Size,
			DurationSeconds: res.Artifact.Duration.Seconds(),
		}
	})

	if m.notifier != nil {
		nctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := m.notifier.Notify(nctx, final); err != nil {
			m.log.Warn("job notification failed", "job_id", final.ID, "error", err.Error())
		}
		cancel()
	}
}

// update applies fn to the job, persists it and publishes the snapshot.
func (m *Manager) update(e *entry, fn func(*v1.Job)) v1.Job {
	m.mu.Lock()
	fn(&e.job)
	snap := e.job
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Put(ctx, snap, m.retention); err != nil {
		m.log.Warn("job store write failed", "job_id", snap.ID, "error", err.Error())
	}
	m.bus.Publish(snap)
	return snap
}

func statusOf(s processor.State) v1.JobStatus {
	switch s {
	case processor.StateSucceeded:
		return v1.JobSucceeded
	case processor.StateTimedOut:
		return v1.JobTimedOut
	case processor.StateCancelled:
		return v1.JobCancelled
	case processor.StateRunning:
		return v1.JobRunning
	case processor.StateQueued:
		return v1.JobQueued
	default:
		return v1.JobFailed
	}
}

// Get prefers the live record, which is always at least as fresh as the
// stored one.
func (m *Manager) Get(ctx context.Context, id string) (v1.Job, error) {
	m.mu.Lock()
	e, ok := m.live[id]
	var snap v1.Job
	if ok {
		snap = e.job
	}
	m.mu.Unlock()
	if ok {
		return snap, nil
	}
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter ports.JobFilter) ([]v1.Job, error) {
	return m.store.List(ctx, filter)
}

// Cancel stops a queued or running job through the normal termination
// path and waits for it to settle. For a finished job it discards the
// artifact and forgets the record; the returned bool is then false.
func (m *Manager) Cancel(ctx context.Context, id string) (v1.Job, bool, error) {
	m.mu.Lock()
	e, ok := m.live[id]
	m.mu.Unlock()

	if !ok {
		if _, err := m.store.Get(ctx, id); err != nil {
			return v1.Job{}, false, err
		}
		return v1.Job{}, false, m.store.Delete(ctx, id)
	}

	select {
	case <-e.done:
		m.discard(id, e)
		return v1.Job{}, false, m.store.Delete(ctx, id)
	default:
	}

	e.cancel(processor.ErrClientCancelled)
	select {
	case <-e.done:
	case <-ctx.Done():
		return v1.Job{}, true, errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable, "jobs.cancel", "job did not stop in time")
	}

	m.mu.Lock()
	snap := e.job
	m.mu.Unlock()
	return snap, true, nil
}

// DeliverArtifact streams a succeeded job's artifact once. Later calls,
// and calls for unfinished or failed jobs, get CONFLICT.
func (m *Manager) DeliverArtifact(w http.ResponseWriter, r *http.Request, id string) error {
	m.mu.Lock()
	e, ok := m.live[id]
	var h *processor.Handle
	var job v1.Job
	if ok {
		h, job = e.handle, e.job
		if h != nil && job.Status == v1.JobSucceeded && !job.Delivered {
			e.job.Delivered = true
		}
	}
	m.mu.Unlock()

	if !ok {
		if _, err := m.store.Get(r.Context(), id); err != nil {
			return err
		}
		return errors.Conflict("artifact is no longer available").WithField("job_id", id)
	}
	switch {
	case h == nil:
		return errors.Conflict("job has not finished").WithField("job_id", id).WithField("status", string(job.Status))
	case job.Status != v1.JobSucceeded:
		return errors.Conflict("job did not succeed").WithField("job_id", id).WithField("status", string(job.Status))
	case job.Delivered:
		return errors.Conflict("artifact was already downloaded").WithField("job_id", id)
	}

	outcome := m.publisher.Deliver(w, r, h)
	m.log.Info("artifact handed off", "job_id", id, "outcome", string(outcome))

	m.update(e, func(j *v1.Job) { j.Delivered = true })
	return nil
}

// discard releases a finished job's workspace and drops it from memory.
func (m *Manager) discard(id string, e *entry) {
	m.mu.Lock()
	h := e.handle
	delete(m.live, id)
	m.mu.Unlock()

	if h != nil {
		if err := h.Release(); err != nil {
			m.log.Warn("artifact release failed", "job_id", id, "error", err.Error())
		}
	}
}

// Sweep discards artifacts of jobs finished more than the retention ago.
// Stores without native expiry also drop their stale records here.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	var expired []string
	for id, e := range m.live {
		if e.handle != nil && !e.finished.IsZero() && e.finished.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.mu.Lock()
		e := m.live[id]
		undelivered := e != nil && e.job.Status == v1.JobSucceeded && !e.job.Delivered
		m.mu.Unlock()
		if e == nil {
			continue
		}

		if undelivered {
			m.update(e, func(j *v1.Job) { j.Status = v1.JobExpired })
		}
		m.discard(id, e)
	}
	if len(expired) > 0 {
		m.log.Info("expired job artifacts discarded", "count", len(expired))
	}
	if p, ok := m.store.(purger); ok {
		if n := p.Purge(); n > 0 {
			m.log.Debug("expired job records purged", "count", n)
		}
	}
	return len(expired)
}

// purger is implemented by stores without native expiry.
type purger interface {
	Purge() int
}

// Close waits for background jobs to settle, bounded by ctx, then
// discards every artifact nobody fetched.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.mu.Lock()
		for _, e := range m.live {
			e.cancel(processor.ErrShutdown)
		}
		m.mu.Unlock()
		<-done
		err = ctx.Err()
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		e := m.live[id]
		m.mu.Unlock()
		m.discard(id, e)
	}
	m.log.Info("job manager closed", "discarded", len(ids))
	return err
}
