// Package processor runs one render job end to end: workspace, input,
// command line, process supervision, artifact and cleanup.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/worker/renderer"
)

const defaultKillGrace = 5 * time.Second

type Deps struct {
	Controller      renderer.Controller
	Prober          renderer.Prober
	Sources         SourceOpener
	Workspaces      *Workspaces
	FFmpegBin       string
	KillGrace       time.Duration
	MaxInputBytes   int64
	DiagnosticBytes int
	Log             *logger.Logger
}

type Processor struct {
	controller      renderer.Controller
	prober          renderer.Prober
	workspaces      *Workspaces
	ffmpeg          string
	killGrace       time.Duration
	diagnosticBytes int
	log             *logger.Logger

	inputHandler  *InputHandler
	outputHandler *OutputHandler

	spawned atomic.Int64
}

func New(d Deps) *Processor {
	log := logger.OrDiscard(d.Log).WithComponent("processor")

	p := &Processor{
		controller:      d.Controller,
		prober:          d.Prober,
		workspaces:      d.Workspaces,
		ffmpeg:          d.FFmpegBin,
		killGrace:       d.KillGrace,
		diagnosticBytes: d.DiagnosticBytes,
		log:             log,
	}
	if p.ffmpeg == "" {
		p.ffmpeg = "ffmpeg"
	}
	if p.killGrace <= 0 {
		p.killGrace = defaultKillGrace
	}

	p.inputHandler = NewInputHandler(d.Sources, d.MaxInputBytes)
	p.outputHandler = NewOutputHandler(d.Prober, log)
	return p
}

// Spawned counts renderer processes started since New.
func (p *Processor) Spawned() int64 { return p.spawned.Load() }

// Render executes spec and returns a terminal handle. The deadline covers
// everything from here on; ctx cancellation takes the same stop path,
// tagged by its cause. On failure the workspace is already gone; on
// success the caller owns the handle and must Release it.
func (p *Processor) Render(ctx context.Context, jobID string, spec *jobspec.JobSpec, deadline time.Time, hooks Hooks) *Handle {
	start := time.Now()
	log := p.log.FromContext(ctx).WithJobID(jobID)
	h := newHandle(jobID, spec, deadline, p.workspaces.Remove)

	ctx, cancel := context.WithDeadlineCause(ctx, deadline, ErrDeadline)
	defer cancel()

	res := p.run(ctx, log, h, hooks)
	res.Elapsed = time.Since(start)
	h.finish(res)

	if res.Err != nil {
		if err := h.Release(); err != nil {
			log.Warn("workspace cleanup failed", "error", err.Error())
		}
	}

	fields := []any{
		"outcome", string(h.State()),
		"format", spec.Format().Name,
		"duration_ms", res.Elapsed.Milliseconds(),
		"exit_code", res.ExitCode,
	}
	if res.Err != nil {
		fields = append(fields, "code", string(res.Err.Code), "error", res.Err.Message)
		if res.Err.Code == errors.CodeInternal {
			log.Error("render finished", fields...)
			return h
		}
		log.Warn("render finished", fields...)
		return h
	}
	fields = append(fields, "size", res.Artifact.Size)
	log.Info("render finished", fields...)
	return h
}

func (p *Processor) run(ctx context.Context, log *logger.Logger, h *Handle, hooks Hooks) Result {
	spec := h.spec

	if ctx.Err() != nil {
		return terminationResult(ReasonOf(ctx), 0)
	}

	// 1. Workspace
	ws, err := p.workspaces.Create(h.id)
	if err != nil {
		return failure(errors.Wrap(err, "processor.workspace", "could not create job workspace"))
	}
	h.setRunning(ws)

	// 2. Input
	input, err := p.inputHandler.Materialize(ctx, ws, spec.Input())
	if err != nil {
		if ctx.Err() != nil {
			return terminationResult(ReasonOf(ctx), 0)
		}
		return failure(err)
	}
	log.Debug("input ready", "input", spec.Input().Ref(), "local", spec.Input().IsLocal())

	// 3. Duration, only needed to turn progress into a fraction
	var total time.Duration
	if hooks.OnProgress != nil && p.prober != nil && spec.Format().Kind != jobspec.KindImage {
		if info, err := p.prober.Probe(ctx, input); err == nil {
			total = info.Duration
		} else {
			log.Debug("input probe failed", "error", err.Error())
		}
	}

	// 4. Command line
	inv := BuildInvocation(spec, input)
	for _, f := range inv.Files {
		if err := os.WriteFile(filepath.Join(ws, f.Name), []byte(f.Content), 0o600); err != nil {
			return failure(errors.Wrap(err, "processor.overlay", "could not write overlay text"))
		}
	}

	// 5. Spawn
	cmd := renderer.Command{
		Path:            p.ffmpeg,
		Args:            inv.Args,
		Dir:             ws,
		DiagnosticBytes: p.diagnosticBytes,
	}
	if hooks.OnProgress != nil {
		cmd.OnProgress = func(pr renderer.Progress) {
			hooks.OnProgress(pr.Fraction(total))
		}
	}

	proc, err := p.controller.Start(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return terminationResult(ReasonOf(ctx), 0)
		}
		return failure(errors.WrapWithCode(err, errors.CodeRenderFailed, "processor.start", "renderer could not be started"))
	}
	p.spawned.Add(1)
	h.setPid(proc.Pid())
	log.Info("renderer started", "pid", proc.Pid(), "overlays", spec.NumOverlays(), "deadline", h.deadline.Format(time.RFC3339))
	if hooks.OnStart != nil {
		hooks.OnStart(proc.Pid())
	}

	// 6. Supervise
	if reason, stopped := p.supervise(ctx, log, proc); stopped {
		res := terminationResult(reason, 0)
		res.Diagnostics = excerpt(proc.Diagnostics(), maxDiagnosticChars)
		return res
	}

	// 7. Exit status and artifact
	if code := proc.ExitCode(); code != 0 {
		diag := excerpt(proc.Diagnostics(), maxDiagnosticChars)
		msg := fmt.Sprintf("renderer exited with status %d", code)
		if line := lastLine(diag); line != "" {
			msg += ": " + line
		}
		return Result{
			Err: errors.New(errors.CodeRenderFailed, msg).
				WithField("exit_code", code).
				WithField("diagnostics", diag),
			ExitCode:    code,
			Diagnostics: diag,
		}
	}

	art, err := p.outputHandler.Locate(ctx, ws, h.id, inv.Output, spec.Format())
	if err != nil {
		return failure(err)
	}
	return Result{Artifact: art}
}

// supervise waits for the process to exit on its own or for ctx to end.
// In the second case it runs the one termination path and reports why.
func (p *Processor) supervise(ctx context.Context, log *logger.Logger, proc renderer.Process) (Reason, bool) {
	select {
	case <-proc.Done():
		return "", false
	case <-ctx.Done():
	}

	// An exit racing the deadline counts as the process's own result.
	select {
	case <-proc.Done():
		return "", false
	default:
	}

	reason := ReasonOf(ctx)
	p.terminate(log, proc, reason)
	return reason, true
}

// terminate sends SIGTERM to the process group, escalates to SIGKILL after
// the grace period and returns once the process has been reaped.
func (p *Processor) terminate(log *logger.Logger, proc renderer.Process, reason Reason) {
	log.Info("stopping renderer", "pid", proc.Pid(), "reason", string(reason))
	if err := proc.Terminate(); err != nil {
		log.Warn("terminate failed", "pid", proc.Pid(), "error", err.Error())
	}

	timer := time.NewTimer(p.killGrace)
	defer timer.Stop()

	select {
	case <-proc.Done():
		return
	case <-timer.C:
	}

	log.Warn("renderer ignored SIGTERM, killing", "pid", proc.Pid(), "grace", p.killGrace.String())
	if err := proc.Kill(); err != nil {
		log.Error("kill failed", "pid", proc.Pid(), "error", err.Error())
	}
	<-proc.Done()
}

func failure(err error) Result {
	var e *errors.Error
	if !errors.As(err, &e) {
		e = errors.Wrap(err, "processor", "render failed")
	}
	return Result{Err: e, ExitCode: -1}
}
