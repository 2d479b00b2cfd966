// Package shutdown stops the service's components in reverse start order
// under one overall deadline.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mediarender/internal/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Step is one component's stop function. A non-zero Budget caps the step
// below whatever is left of the overall deadline.
type Step struct {
	Name   string
	Budget time.Duration
	Stop   func(ctx context.Context) error
}

// Result records how one step ended.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Manager runs registered steps last-registered first, so a component
// registered after its dependencies stops before them.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	steps   []Step
	results []Result

	once sync.Once
	done chan struct{}
}

func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Manager{
		log:     logger.OrDiscard(log).WithComponent("shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a step limited only by the overall deadline.
func (m *Manager) Register(name string, stop func(ctx context.Context) error) {
	m.RegisterBudget(name, 0, stop)
}

// RegisterBudget adds a step with its own cap.
func (m *Manager) RegisterBudget(name string, budget time.Duration, stop func(ctx context.Context) error) {
	m.mu.Lock()
	m.steps = append(m.steps, Step{Name: name, Budget: budget, Stop: stop})
	m.mu.Unlock()
}

// Wait blocks until SIGINT or SIGTERM arrives or ctx ends, then shuts down.
func (m *Manager) Wait(ctx context.Context) []Result {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() == nil {
		m.log.Info("stop signal received")
	}
	return m.Shutdown()
}

// Shutdown runs every step once. Concurrent and later calls wait for the
// first run and return its results.
func (m *Manager) Shutdown() []Result {
	m.once.Do(m.run)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.results...)
}

// Done is closed once every step has returned.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) run() {
	defer close(m.done)

	m.mu.Lock()
	steps := append([]Step(nil), m.steps...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("shutting down", "steps", len(steps), "timeout", m.timeout.String())

	results := make([]Result, 0, len(steps))
	var failed int
	for i := len(steps) - 1; i >= 0; i-- {
		res := runStep(ctx, steps[i])
		results = append(results, res)
		if res.Err != nil {
			failed++
			m.log.Error("shutdown step failed", "step", res.Name, "error", res.Err.Error(), "duration_ms", res.Duration.Milliseconds())
			continue
		}
		m.log.Debug("shutdown step done", "step", res.Name, "duration_ms", res.Duration.Milliseconds())
	}

	m.mu.Lock()
	m.results = results
	m.mu.Unlock()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.log.Warn("shutdown deadline exceeded", "failed", failed)
		return
	}
	m.log.Info("shutdown complete", "failed", failed)
}

func runStep(ctx context.Context, s Step) Result {
	if s.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Budget)
		defer cancel()
	}
	start := time.Now()
	err := s.Stop(ctx)
	return Result{Name: s.Name, Err: err, Duration: time.Since(start)}
}
