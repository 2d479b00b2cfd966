package renderer

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func startScript(t *testing.T, script string, onProgress func(Progress)) Process {
	t.Helper()
	c := NewExecController(nil)
	c.ProgressEvery = time.Millisecond
	p, err := c.Start(context.Background(), Command{
		Path:            requireShell(t),
		Args:            []string{"-c", script},
		Dir:             t.TempDir(),
		DiagnosticBytes: 256,
		OnProgress:      onProgress,
	})
	require.NoError(t, err)
	return p
}

func waitDone(t *testing.T, p Process, within time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(within):
		_ = p.Kill()
		t.Fatalf("process %d did not exit within %s", p.Pid(), within)
	}
}

func TestExecControllerSuccessWithProgress(t *testing.T) {
	var mu sync.Mutex
	var got []Progress
	p := startScript(t, `
printf 'frame=10\nout_time_us=1000000\nspeed=2x\nprogress=continue\n'
printf 'frame=20\nout_time_us=2000000\nprogress=end\n'
exit 0`, func(pr Progress) {
		mu.Lock()
		got = append(got, pr)
		mu.Unlock()
	})

	waitDone(t, p, 5*time.Second)
	assert.Equal(t, 0, p.ExitCode())
	assert.Greater(t, p.Pid(), 0)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.True(t, last.Done)
	assert.Equal(t, int64(20), last.Frame)
	assert.Equal(t, 2*time.Second, last.OutTime)
}

func TestExecControllerFailureDiagnostics(t *testing.T) {
	p := startScript(t, `echo "Stream #0:0: Video: h264" >&2; echo "Unsupported codec" >&2; exit 1`, nil)

	waitDone(t, p, 5*time.Second)
	assert.Equal(t, 1, p.ExitCode())
	assert.Contains(t, p.Diagnostics(), "Unsupported codec")
}

func TestExecControllerTerminateStopsGroup(t *testing.T) {
	p := startScript(t, `sleep 30 & wait`, nil)
	time.Sleep(100 * time.Millisecond)
	pid := p.Pid()

	require.NoError(t, p.Terminate())
	waitDone(t, p, 5*time.Second)

	assert.NotEqual(t, 0, p.ExitCode())
	assert.False(t, Alive(pid), "process still alive after termination")
	assert.NoError(t, p.Terminate(), "signalling an exited process is not an error")
}

func TestExecControllerKillAfterIgnoredTerm(t *testing.T) {
	p := startScript(t, `trap '' TERM; while :; do sleep 0.05; done`, nil)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, p.Terminate())
	select {
	case <-p.Done():
		t.Fatal("script should ignore SIGTERM")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, p.Kill())
	waitDone(t, p, 5*time.Second)
	assert.Equal(t, -1, p.ExitCode())
	assert.False(t, Alive(p.Pid()))
}

func TestExecControllerStartErrors(t *testing.T) {
	c := NewExecController(nil)

	_, err := c.Start(context.Background(), Command{Path: "/nonexistent/ffmpeg"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Start(ctx, Command{Path: requireShell(t), Args: []string{"-c", "true"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(16)
	_, _ = tb.Write([]byte("short\n"))
	assert.Equal(t, "short\n", tb.String())

	_, _ = tb.Write([]byte("line two\nline three\n"))
	s := tb.String()
	assert.LessOrEqual(t, len(s), 16)
	assert.True(t, strings.HasSuffix(s, "line three\n"), s)

	tb = newTailBuffer(5)
	_, _ = tb.Write([]byte("你好世界"))
	assert.Equal(t, "界", tb.String())
}

func TestProgressParser(t *testing.T) {
	var pp progressParser
	lines := []string{"frame=5", "out_time_ms=1500000", "speed= 1.5x", "bogus", "progress=continue"}

	var got Progress
	var ok bool
	for _, l := range lines {
		got, ok = pp.feed(l)
	}
	require.True(t, ok)
	assert.Equal(t, int64(5), got.Frame)
	assert.Equal(t, 1500*time.Millisecond, got.OutTime)
	assert.Equal(t, "1.5x", got.Speed)
	assert.False(t, got.Done)

	got, ok = pp.feed("progress=end")
	require.True(t, ok)
	assert.True(t, got.Done)
	assert.Zero(t, got.Frame, "blocks do not leak into each other")
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, 0.5, Progress{OutTime: time.Second}.Fraction(2*time.Second))
	assert.Equal(t, 0.0, Progress{OutTime: time.Second}.Fraction(0))
	assert.Equal(t, 0.99, Progress{OutTime: 3 * time.Second}.Fraction(2*time.Second))
	assert.Equal(t, 1.0, Progress{Done: true}.Fraction(0))
}

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(`{
		"streams": [
			{"codec_type": "video", "width": 1920, "height": 1080},
			{"codec_type": "audio", "duration": "9.5"}
		],
		"format": {"duration": "10.000000"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, info.Duration)
	assert.Equal(t, 1920, info.Width)
	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)

	info, err = parseProbe([]byte(`{"streams":[{"codec_type":"audio","duration":"3"}],"format":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, info.Duration)
	assert.False(t, info.HasVideo)

	_, err = parseProbe([]byte("not json"))
	assert.Error(t, err)
}
