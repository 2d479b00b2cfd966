package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/fonts"
	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
	"mediarender/internal/worker/processor/processortest"
)

type fakeSources struct {
	body string
	info ports.ObjectInfo
	err  error
}

func (f fakeSources) Open(context.Context, *url.URL) (io.ReadCloser, ports.ObjectInfo, error) {
	if f.err != nil {
		return nil, ports.ObjectInfo{}, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), f.info, nil
}

type anyScheme struct{}

func (anyScheme) Supports(string) bool { return true }

func newSpec(t *testing.T, body string) *jobspec.JobSpec {
	t.Helper()
	media := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(media, "clip.mp4"), []byte("source"), 0o644))

	v := jobspec.NewValidator(jobspec.ValidatorConfig{
		MediaRoot:     media,
		DefaultFamily: "Noto Sans CJK SC",
		Fonts: fonts.NewStatic(
			fonts.Face{Family: "Noto Sans CJK SC", Path: "/fonts/NotoSansCJK.ttc", Index: 2},
			fonts.Face{Family: "DejaVu Sans", Path: "/fonts/DejaVu Sans:Book.ttf"},
		),
		Sources: anyScheme{},
		Limits:  jobspec.Limits{MaxOverlays: 8, MaxTextRunes: 100, MaxTimeout: 600 * time.Second},
	})

	var req v1.RenderRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	spec, err := v.Validate(req)
	require.NoError(t, err)
	return spec
}

type harness struct {
	proc *Processor
	ctrl *processortest.Controller
	ws   *Workspaces
}

func newHarness(t *testing.T, ctrl *processortest.Controller, mutate func(*Deps)) *harness {
	t.Helper()
	ws, err := OpenWorkspaces(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	d := Deps{
		Controller: ctrl,
		Prober:     processortest.Prober{Duration: 2 * time.Second},
		Workspaces: ws,
		KillGrace:  100 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&d)
	}
	return &harness{proc: New(d), ctrl: ctrl, ws: ws}
}

func requireGone(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "expected %s to be removed, stat err: %v", path, err)
}

func TestRenderCJKOverlaySucceeds(t *testing.T) {
	h := newHarness(t, &processortest.Controller{Behave: processortest.WritesOutput}, nil)
	spec := newSpec(t, `{
		"input": "clip.mp4",
		"output_format": "mp4",
		"overlays": [{"text": "你好世界", "font": "Noto Sans CJK SC", "position": "top-left"}]
	}`)

	var progress []float64
	var started int
	handle := h.proc.Render(context.Background(), "job-cjk", spec, time.Now().Add(time.Minute), Hooks{
		OnStart:    func(pid int) { started = pid },
		OnProgress: func(f float64) { progress = append(progress, f) },
	})

	require.Equal(t, StateSucceeded, handle.State(), "err: %v", handle.Err())
	require.NoError(t, handle.Err())
	assert.Equal(t, 1000, started)
	assert.Equal(t, []float64{0.5, 1}, progress)
	assert.EqualValues(t, 1, h.proc.Spawned())

	art := handle.Artifact()
	require.NotNil(t, art)
	assert.Equal(t, "mp4", art.Format)
	assert.Equal(t, "video/mp4", art.ContentType)
	assert.Equal(t, "render-job-cjk.mp4", art.Filename)
	assert.EqualValues(t, len(processortest.Output), art.Size)
	assert.Equal(t, 2*time.Second, art.Duration)

	ws := handle.Workspace()
	text, err := os.ReadFile(filepath.Join(ws, "overlay_00.txt"))
	require.NoError(t, err)
	assert.Equal(t, "你好世界", string(text))

	cmd, _ := h.ctrl.Last()
	assert.Equal(t, ws, cmd.Dir)
	vf := argAfter(cmd.Args, "-vf")
	assert.Contains(t, vf, "font=Noto Sans CJK SC")
	assert.Contains(t, vf, "textfile=overlay_00.txt")
	assert.Contains(t, vf, "x=20:y=20")

	require.NoError(t, handle.Release())
	require.NoError(t, handle.Release())
	requireGone(t, ws)
	assert.Empty(t, handle.Workspace())
	assert.Empty(t, handle.Artifact().Path)
}

func TestRenderNonZeroExit(t *testing.T) {
	h := newHarness(t, &processortest.Controller{Behave: processortest.ExitsWith(1, "Input #0, mov\nUnsupported codec for output stream")}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "webm"}`)

	handle := h.proc.Render(context.Background(), "job-fail", spec, time.Now().Add(time.Minute), Hooks{})

	assert.Equal(t, StateFailed, handle.State())
	res := handle.Result()
	require.NotNil(t, res.Err)
	assert.Equal(t, errors.CodeRenderFailed, res.Err.Code)
	assert.Equal(t, errors.KindRenderFailed, res.Err.Kind())
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Diagnostics, "Unsupported codec")
	assert.Contains(t, res.Err.Message, "status 1")
	assert.Equal(t, 1, res.Err.Fields["exit_code"])
	assert.Nil(t, handle.Artifact())

	requireGone(t, filepath.Join(h.ws.Root(), "job-fail"))
}

func TestRenderDiagnosticsAreBounded(t *testing.T) {
	long := strings.Repeat("x", 100) + "\n" + strings.Repeat("frame error\n", 1000)
	h := newHarness(t, &processortest.Controller{Behave: processortest.ExitsWith(183, long)}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4"}`)

	res := h.proc.Render(context.Background(), "job-long", spec, time.Now().Add(time.Minute), Hooks{}).Result()

	assert.LessOrEqual(t, len(res.Diagnostics), maxDiagnosticChars)
	assert.True(t, strings.HasPrefix(res.Diagnostics, "frame error"))
}

func TestRenderTimeoutTerminates(t *testing.T) {
	h := newHarness(t, &processortest.Controller{Behave: processortest.Hangs}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4", "timeout_seconds": 1}`)

	start := time.Now()
	handle := h.proc.Render(context.Background(), "job-slow", spec, time.Now().Add(100*time.Millisecond), Hooks{})
	elapsed := time.Since(start)

	assert.Equal(t, StateTimedOut, handle.State())
	assert.Equal(t, errors.CodeTimedOut, handle.Result().Err.Code)
	assert.Equal(t, ReasonTimeout, handle.Result().Reason)
	assert.Less(t, elapsed, 2*time.Second)

	_, p := h.ctrl.Last()
	assert.EqualValues(t, 1, p.Terms.Load())
	assert.EqualValues(t, 0, p.Kills.Load())
	requireGone(t, filepath.Join(h.ws.Root(), "job-slow"))
}

func TestRenderKillsAfterGrace(t *testing.T) {
	ctrl := &processortest.Controller{Behave: processortest.Hangs, Setup: func(p *processortest.Process) { p.IgnoreTerm = true }}
	h := newHarness(t, ctrl, func(d *Deps) { d.KillGrace = 50 * time.Millisecond })
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4"}`)

	handle := h.proc.Render(context.Background(), "job-stubborn", spec, time.Now().Add(50*time.Millisecond), Hooks{})

	assert.Equal(t, StateTimedOut, handle.State())
	_, p := ctrl.Last()
	assert.EqualValues(t, 1, p.Terms.Load())
	assert.EqualValues(t, 1, p.Kills.Load())
	requireGone(t, filepath.Join(h.ws.Root(), "job-stubborn"))
}

func TestRenderClientCancel(t *testing.T) {
	h := newHarness(t, &processortest.Controller{Behave: processortest.Hangs}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle := h.proc.Render(ctx, "job-gone", spec, time.Now().Add(time.Minute), Hooks{
		OnStart: func(int) { cancel() },
	})

	assert.Equal(t, StateCancelled, handle.State())
	assert.Equal(t, errors.CodeCancelled, handle.Result().Err.Code)
	assert.Equal(t, ReasonClientCancelled, handle.Result().Reason)
	requireGone(t, filepath.Join(h.ws.Root(), "job-gone"))
}

func TestRenderShutdownCause(t *testing.T) {
	h := newHarness(t, &processortest.Controller{Behave: processortest.Hangs}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4"}`)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	handle := h.proc.Render(ctx, "job-shutdown", spec, time.Now().Add(time.Minute), Hooks{
		OnStart: func(int) { cancel(ErrShutdown) },
	})

	assert.Equal(t, StateCancelled, handle.State())
	assert.Equal(t, errors.CodeUnavailable, handle.Result().Err.Code)
	assert.Equal(t, ReasonShutdown, handle.Result().Reason)
}

func TestRenderExpiredDeadlineNeverSpawns(t *testing.T) {
	h := newHarness(t, &processortest.Controller{Behave: processortest.WritesOutput}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4"}`)

	handle := h.proc.Render(context.Background(), "job-late", spec, time.Now().Add(-time.Second), Hooks{})

	assert.Equal(t, StateTimedOut, handle.State())
	assert.EqualValues(t, 0, h.proc.Spawned())
	requireGone(t, filepath.Join(h.ws.Root(), "job-late"))
}

func TestRenderMissingArtifact(t *testing.T) {
	h := newHarness(t, &processortest.Controller{Behave: processortest.ExitsWith(0, "")}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "png"}`)

	handle := h.proc.Render(context.Background(), "job-empty", spec, time.Now().Add(time.Minute), Hooks{})

	assert.Equal(t, StateFailed, handle.State())
	assert.Equal(t, errors.CodeRenderFailed, handle.Result().Err.Code)
	assert.Contains(t, handle.Result().Err.Message, "no output")
	requireGone(t, filepath.Join(h.ws.Root(), "job-empty"))
}

func TestRenderStartError(t *testing.T) {
	h := newHarness(t, &processortest.Controller{StartErr: fmt.Errorf("exec: \"ffmpeg\": executable file not found")}, nil)
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4"}`)

	handle := h.proc.Render(context.Background(), "job-nobin", spec, time.Now().Add(time.Minute), Hooks{})

	assert.Equal(t, StateFailed, handle.State())
	assert.Equal(t, errors.CodeRenderFailed, handle.Result().Err.Code)
	assert.EqualValues(t, 0, h.proc.Spawned())
}

func TestRenderRemoteInput(t *testing.T) {
	t.Run("streams into the workspace", func(t *testing.T) {
		h := newHarness(t, &processortest.Controller{Behave: processortest.WritesOutput}, func(d *Deps) {
			d.Sources = fakeSources{body: "remote-bytes", info: ports.ObjectInfo{Name: "clip.MOV", Size: -1}}
			d.MaxInputBytes = 1024
		})
		spec := newSpec(t, `{"input": "https://media.example.com/clip.MOV", "output_format": "mp4"}`)

		handle := h.proc.Render(context.Background(), "job-remote", spec, time.Now().Add(time.Minute), Hooks{})
		require.Equal(t, StateSucceeded, handle.State(), "err: %v", handle.Err())
		defer handle.Release()

		cmd, _ := h.ctrl.Last()
		input := argAfter(cmd.Args, "-i")
		assert.Equal(t, filepath.Join(handle.Workspace(), "input.mov"), input)
		data, err := os.ReadFile(input)
		require.NoError(t, err)
		assert.Equal(t, "remote-bytes", string(data))
	})

	t.Run("over the size cap", func(t *testing.T) {
		h := newHarness(t, &processortest.Controller{Behave: processortest.WritesOutput}, func(d *Deps) {
			d.Sources = fakeSources{body: "0123456789", info: ports.ObjectInfo{Size: -1}}
			d.MaxInputBytes = 4
		})
		spec := newSpec(t, `{"input": "https://media.example.com/big.mp4", "output_format": "mp4"}`)

		handle := h.proc.Render(context.Background(), "job-big", spec, time.Now().Add(time.Minute), Hooks{})

		assert.Equal(t, StateFailed, handle.State())
		assert.Equal(t, errors.CodePayloadTooLarge, handle.Result().Err.Code)
		assert.EqualValues(t, 0, h.proc.Spawned())
		requireGone(t, filepath.Join(h.ws.Root(), "job-big"))
	})

	t.Run("declared size over the cap", func(t *testing.T) {
		h := newHarness(t, &processortest.Controller{Behave: processortest.WritesOutput}, func(d *Deps) {
			d.Sources = fakeSources{body: "", info: ports.ObjectInfo{Size: 1 << 40}}
			d.MaxInputBytes = 4
		})
		spec := newSpec(t, `{"input": "s3://bucket/huge.mp4", "output_format": "mp4"}`)

		handle := h.proc.Render(context.Background(), "job-huge", spec, time.Now().Add(time.Minute), Hooks{})
		assert.Equal(t, errors.CodePayloadTooLarge, handle.Result().Err.Code)
	})

	t.Run("fetch failure", func(t *testing.T) {
		h := newHarness(t, &processortest.Controller{Behave: processortest.WritesOutput}, func(d *Deps) {
			d.Sources = fakeSources{err: errors.NotFound("object", "gdrive://abc")}
		})
		spec := newSpec(t, `{"input": "gdrive://1AbCdEfGhIjKlMn", "output_format": "mp4"}`)

		handle := h.proc.Render(context.Background(), "job-404", spec, time.Now().Add(time.Minute), Hooks{})
		assert.Equal(t, StateFailed, handle.State())
		assert.Equal(t, errors.CodeRenderFailed, handle.Result().Err.Code)
	})
}

func TestAborted(t *testing.T) {
	spec := newSpec(t, `{"input": "clip.mp4", "output_format": "mp4"}`)

	h := Aborted("job-q", spec, time.Now(), ReasonTimeout)
	assert.Equal(t, StateTimedOut, h.State())
	require.NoError(t, h.Release())

	select {
	case <-h.Released():
	default:
		t.Fatal("expected released channel to be closed")
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
