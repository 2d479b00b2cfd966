// Package processortest provides a fake renderer process controller for
// tests that need real job handles without running ffmpeg.
package processortest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"mediarender/internal/worker/renderer"
)

// Process is a fake renderer process. Its behaviour goroutine decides how
// and when it exits.
type Process struct {
	pid        int
	done       chan struct{}
	once       sync.Once
	code       int
	diag       string
	IgnoreTerm bool

	Terms atomic.Int32
	Kills atomic.Int32
}

// Exit ends the process with code. Later calls are no-ops.
func (p *Process) Exit(code int) {
	p.once.Do(func() {
		p.code = code
		close(p.done)
	})
}

// SetDiagnostics must be called before Exit.
func (p *Process) SetDiagnostics(s string) { p.diag = s }

func (p *Process) Pid() int              { return p.pid }
func (p *Process) Done() <-chan struct{} { return p.done }
func (p *Process) ExitCode() int         { return p.code }
func (p *Process) Diagnostics() string   { return p.diag }

func (p *Process) Terminate() error {
	p.Terms.Add(1)
	if !p.IgnoreTerm {
		p.Exit(-1)
	}
	return nil
}

func (p *Process) Kill() error {
	p.Kills.Add(1)
	p.Exit(-1)
	return nil
}

// Behaviour runs in its own goroutine once a fake process has started.
type Behaviour func(cmd renderer.Command, p *Process)

// Controller records every command and starts fake processes.
type Controller struct {
	Behave   Behaviour
	StartErr error
	// Setup adjusts a process before its behaviour starts.
	Setup func(p *Process)

	mu    sync.Mutex
	cmds  []renderer.Command
	procs []*Process
}

func (c *Controller) Start(ctx context.Context, cmd renderer.Command) (renderer.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.StartErr != nil {
		return nil, c.StartErr
	}

	c.mu.Lock()
	p := &Process{pid: 1000 + len(c.procs), done: make(chan struct{})}
	if c.Setup != nil {
		c.Setup(p)
	}
	c.cmds = append(c.cmds, cmd)
	c.procs = append(c.procs, p)
	c.mu.Unlock()

	behave := c.Behave
	if behave == nil {
		behave = WritesOutput
	}
	go behave(cmd, p)
	return p, nil
}

// Starts is the number of processes started so far.
func (c *Controller) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.procs)
}

// Last returns the most recent command and process.
func (c *Controller) Last() (renderer.Command, *Process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.procs) == 0 {
		return renderer.Command{}, nil
	}
	return c.cmds[len(c.cmds)-1], c.procs[len(c.procs)-1]
}

// Output is what WritesOutput puts in the artifact.
const Output = "rendered-bytes"

// WritesOutput creates the artifact named by the last argument, reports
// progress and exits 0.
func WritesOutput(cmd renderer.Command, p *Process) {
	out := cmd.Args[len(cmd.Args)-1]
	_ = os.WriteFile(filepath.Join(cmd.Dir, out), []byte(Output), 0o600)
	if cmd.OnProgress != nil {
		cmd.OnProgress(renderer.Progress{OutTime: time.Second})
		cmd.OnProgress(renderer.Progress{OutTime: 2 * time.Second, Done: true})
	}
	p.Exit(0)
}

// ExitsWith exits immediately with code and diagnostics.
func ExitsWith(code int, diag string) Behaviour {
	return func(_ renderer.Command, p *Process) {
		p.SetDiagnostics(diag)
		p.Exit(code)
	}
}

// Hangs never exits on its own.
func Hangs(renderer.Command, *Process) {}

// Prober reports a fixed duration for every file.
type Prober struct {
	Duration time.Duration
}

func (f Prober) Probe(context.Context, string) (renderer.MediaInfo, error) {
	return renderer.MediaInfo{Duration: f.Duration, HasVideo: true}, nil
}
