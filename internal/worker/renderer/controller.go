// Package renderer starts and stops the external media tool. Everything
// above it talks to the narrow Controller interface so tests can swap in
// a fake process.
package renderer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mediarender/internal/pkg/logger"
)

// Command describes one invocation.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory; the job workspace.
	Dir string
	Env []string
	// DiagnosticBytes bounds the captured stderr tail.
	DiagnosticBytes int
	// OnProgress receives parsed "-progress pipe:1" blocks.
	OnProgress func(Progress)
}

// Process is one running invocation. At most one exists per job.
type Process interface {
	Pid() int
	// Done is closed after the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitCode is valid after Done; -1 when killed by a signal.
	ExitCode() int
	// Diagnostics returns the tail of the diagnostic stream.
	Diagnostics() string
	// Terminate asks the process group to stop (SIGTERM).
	Terminate() error
	// Kill stops the process group immediately (SIGKILL).
	Kill() error
}

// Controller spawns processes.
type Controller interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// ExecController runs real binaries through os/exec, each in its own
// process group so filters spawned by ffmpeg die with it.
type ExecController struct {
	log *logger.Logger
	// ProgressEvery throttles OnProgress callbacks. Zero means 500ms.
	ProgressEvery time.Duration
}

func NewExecController(log *logger.Logger) *ExecController {
	return &ExecController{log: logger.OrDiscard(log).WithComponent("renderer")}
}

// Start launches cmd. ctx only bounds the launch itself; stopping a
// running process is the caller's job through Terminate and Kill.
func (c *ExecController) Start(ctx context.Context, cmd Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ec := exec.Command(cmd.Path, cmd.Args...)
	ec.Dir = cmd.Dir
	ec.Env = cmd.Env
	setProcessGroup(ec)

	limit := cmd.DiagnosticBytes
	if limit <= 0 {
		limit = 8 << 10
	}
	tail := newTailBuffer(limit)
	ec.Stderr = tail

	stdout, err := ec.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := ec.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	p := &execProcess{
		cmd:  ec,
		tail: tail,
		done: make(chan struct{}),
		code: -1,
	}

	every := c.ProgressEvery
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	go p.wait(stdout, cmd.OnProgress, rate.NewLimiter(rate.Every(every), 1))

	c.log.Debug("process started", "pid", p.Pid(), "path", cmd.Path, "dir", cmd.Dir)
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	tail *tailBuffer
	done chan struct{}

	mu   sync.Mutex
	code int
}

func (p *execProcess) wait(stdout io.Reader, onProgress func(Progress), limiter *rate.Limiter) {
	defer close(p.done)

	scanner := bufio.NewScanner(stdout)
	parser := progressParser{}
	for scanner.Scan() {
		prog, ok := parser.feed(scanner.Text())
		if !ok || onProgress == nil {
			continue
		}
		if prog.Done || limiter.Allow() {
			onProgress(prog)
		}
	}
	// Drain whatever remains so Wait is not blocked on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	err := p.cmd.Wait()

	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	p.mu.Lock()
	p.code = code
	p.mu.Unlock()
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *execProcess) Diagnostics() string { return p.tail.String() }

func (p *execProcess) Terminate() error { return p.signal(false) }

func (p *execProcess) Kill() error { return p.signal(true) }

func (p *execProcess) signal(force bool) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := signalGroup(p.cmd.Process, force)
	if err != nil && !isProcessGone(err) {
		return err
	}
	return nil
}
