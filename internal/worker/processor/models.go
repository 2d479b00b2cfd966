package processor

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/errors"
)

// State is the lifecycle of a Handle.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Reason tags why a job was stopped before the renderer finished.
type Reason string

const (
	ReasonTimeout         Reason = "timeout"
	ReasonClientCancelled Reason = "client_cancelled"
	ReasonShutdown        Reason = "shutdown"
)

// Context causes. Whoever cancels a job context passes one of these so the
// termination path can tell the reasons apart.
var (
	ErrDeadline        = stderrors.New("render deadline exceeded")
	ErrClientCancelled = stderrors.New("client cancelled the request")
	ErrShutdown        = stderrors.New("service shutting down")
)

// ReasonOf classifies a done context by its cause. Plain cancellation
// counts as the client going away.
func ReasonOf(ctx context.Context) Reason {
	cause := context.Cause(ctx)
	switch {
	case stderrors.Is(cause, ErrShutdown):
		return ReasonShutdown
	case stderrors.Is(cause, ErrDeadline), stderrors.Is(cause, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonClientCancelled
	}
}

// Hooks observe a render while it runs. Both are optional and are called
// from the render goroutine.
type Hooks struct {
	OnStart    func(pid int)
	OnProgress func(fraction float64)
}

// Artifact is the rendered output file inside the job workspace.
type Artifact struct {
	Path        string
	Filename    string
	Format      string
	ContentType string
	Size        int64
	Duration    time.Duration
}

// Result is the terminal outcome of a render.
type Result struct {
	Artifact *Artifact
	// Err is nil on success. Its code is RENDER_FAILED, TIMED_OUT,
	// CANCELLED, UNAVAILABLE or INTERNAL_ERROR.
	Err      *errors.Error
	ExitCode int
	// Diagnostics is the bounded stderr excerpt of a failed run.
	Diagnostics string
	Reason      Reason
	Elapsed     time.Duration
}

// Handle is one job execution: its workspace, its process and its result.
// A handle owns its workspace until Release is called.
type Handle struct {
	id       string
	spec     *jobspec.JobSpec
	deadline time.Time

	mu        sync.Mutex
	state     State
	pid       int
	workspace string
	result    Result

	release  sync.Once
	released chan struct{}
	cleanup  func(dir string) error
	relErr   error
}

func newHandle(id string, spec *jobspec.JobSpec, deadline time.Time, cleanup func(string) error) *Handle {
	return &Handle{
		id:       id,
		spec:     spec,
		deadline: deadline,
		state:    StateQueued,
		released: make(chan struct{}),
		cleanup:  cleanup,
	}
}

// Aborted builds a terminal handle for a job that never reached the
// renderer, such as one whose deadline passed while queued.
func Aborted(id string, spec *jobspec.JobSpec, deadline time.Time, reason Reason) *Handle {
	h := newHandle(id, spec, deadline, nil)
	h.finish(terminationResult(reason, 0))
	return h
}

func (h *Handle) ID() string                { return h.id }
func (h *Handle) Spec() *jobspec.JobSpec    { return h.spec }
func (h *Handle) Deadline() time.Time       { return h.deadline }
func (h *Handle) Released() <-chan struct{} { return h.released }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Pid is the renderer's process id, 0 before spawn.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Workspace is the scratch directory, empty once removed.
func (h *Handle) Workspace() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workspace
}

// Result is valid once State is terminal.
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Artifact is nil unless the render succeeded.
func (h *Handle) Artifact() *Artifact {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result.Artifact
}

// Err returns the failure as an error, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.Err == nil {
		return nil
	}
	return h.result.Err
}

// Release removes the workspace and with it the artifact. Only the first
// call does any work; later calls return the same error.
func (h *Handle) Release() error {
	h.release.Do(func() {
		h.mu.Lock()
		dir := h.workspace
		h.workspace = ""
		if h.result.Artifact != nil {
			a := *h.result.Artifact
			a.Path = ""
			h.result.Artifact = &a
		}
		h.mu.Unlock()

		if dir != "" && h.cleanup != nil {
			h.relErr = h.cleanup(dir)
		}
		close(h.released)
	})
	return h.relErr
}

func (h *Handle) setRunning(workspace string) {
	h.mu.Lock()
	h.state = StateRunning
	h.workspace = workspace
	h.mu.Unlock()
}

func (h *Handle) setPid(pid int) {
	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()
}

func (h *Handle) finish(res Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result = res
	switch {
	case res.Err == nil:
		h.state = StateSucceeded
	case res.Err.Code == errors.CodeTimedOut:
		h.state = StateTimedOut
	case res.Err.Code == errors.CodeCancelled || res.Reason == ReasonShutdown:
		h.state = StateCancelled
	default:
		h.state = StateFailed
	}
}

// terminationResult is the shared outcome of every stop that the renderer
// did not decide on its own.
func terminationResult(reason Reason, elapsed time.Duration) Result {
	var err *errors.Error
	switch reason {
	case ReasonTimeout:
		err = errors.New(errors.CodeTimedOut, "render exceeded its deadline")
	case ReasonShutdown:
		err = errors.New(errors.CodeUnavailable, "render aborted: service shutting down")
	default:
		err = errors.New(errors.CodeCancelled, "render cancelled by the client")
	}
	return Result{
		Err:      err.WithField("reason", string(reason)),
		ExitCode: -1,
		Reason:   reason,
		Elapsed:  elapsed,
	}
}
