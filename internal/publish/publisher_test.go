package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/fonts"
	"mediarender/internal/jobspec"
	apperrors "mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/middleware"
	"mediarender/internal/worker/processor"
	"mediarender/internal/worker/processor/processortest"
)

func render(t *testing.T, behave processortest.Behaviour, format string) *processor.Handle {
	t.Helper()
	media := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(media, "clip.mp4"), []byte("x"), 0o644))

	ws, err := processor.OpenWorkspaces(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	proc := processor.New(processor.Deps{
		Controller: &processortest.Controller{Behave: behave},
		Prober:     processortest.Prober{Duration: 1500 * time.Millisecond},
		Workspaces: ws,
	})

	v := jobspec.NewValidator(jobspec.ValidatorConfig{MediaRoot: media, Fonts: fonts.NewStatic()})
	spec, err := v.Validate(v1.RenderRequest{Input: "clip.mp4", OutputFormat: format})
	require.NoError(t, err)

	return proc.Render(context.Background(), "job-pub", spec, time.Now().Add(time.Minute), processor.Hooks{})
}

func TestDeliverSuccess(t *testing.T) {
	h := render(t, processortest.WritesOutput, "mp4")
	require.Equal(t, processor.StateSucceeded, h.State())
	ws := h.Workspace()

	rec := httptest.NewRecorder()
	out := New(nil).Deliver(rec, httptest.NewRequest("POST", "/v1/render", nil), h)

	assert.Equal(t, Delivered, out)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, processortest.Output, rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=render-job-pub.mp4`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "job-pub", rec.Header().Get(v1.HeaderJobID))
	assert.Equal(t, "mp4", rec.Header().Get(v1.HeaderFormat))
	assert.Equal(t, "14", rec.Header().Get(v1.HeaderSize))
	assert.Equal(t, "1.500", rec.Header().Get(v1.HeaderDuration))

	_, err := os.Stat(ws)
	assert.True(t, os.IsNotExist(err), "workspace must be removed after delivery")
}

func TestDeliverRange(t *testing.T) {
	h := render(t, processortest.WritesOutput, "mp4")

	req := httptest.NewRequest("GET", "/v1/jobs/job-pub/artifact", nil)
	req.Header.Set("Range", "bytes=0-7")
	rec := httptest.NewRecorder()
	out := New(nil).Deliver(rec, req, h)

	assert.Equal(t, Delivered, out)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, processortest.Output[:8], rec.Body.String())
	assert.Equal(t, "bytes 0-7/14", rec.Header().Get("Content-Range"))
}

func TestDeliverFailure(t *testing.T) {
	h := render(t, processortest.ExitsWith(1, "Unsupported codec"), "webm")
	require.Equal(t, processor.StateFailed, h.State())

	rec := httptest.NewRecorder()
	out := New(nil).Deliver(rec, httptest.NewRequest("POST", "/v1/render", nil), h)

	assert.Equal(t, ErrorReported, out)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env middleware.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, apperrors.CodeRenderFailed, env.Error.Code)
	assert.Equal(t, apperrors.KindRenderFailed, env.Error.Kind)
	assert.Equal(t, "job-pub", env.Error.Details["job_id"])
	assert.EqualValues(t, 1, env.Error.Details["exit_code"])
	assert.Contains(t, env.Error.Details["diagnostics"], "Unsupported codec")
	assert.NotContains(t, rec.Body.String(), processortest.Output)
}

type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (b brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestDeliverInterruptedStillReleases(t *testing.T) {
	h := render(t, processortest.WritesOutput, "mp4")
	ws := h.Workspace()

	out := New(nil).Deliver(brokenWriter{httptest.NewRecorder()}, httptest.NewRequest("POST", "/v1/render", nil), h)

	assert.Equal(t, DeliveryFailed, out)
	_, err := os.Stat(ws)
	assert.True(t, os.IsNotExist(err))
	select {
	case <-h.Released():
	default:
		t.Fatal("handle not released")
	}
}
