package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/worker/renderer"
)

type OutputHandler struct {
	prober renderer.Prober
	log    *logger.Logger
}

func NewOutputHandler(prober renderer.Prober, log *logger.Logger) *OutputHandler {
	return &OutputHandler{prober: prober, log: logger.OrDiscard(log)}
}

// Locate finds the artifact the renderer left in the workspace and reads
// its metadata. A clean exit without output is a render failure.
func (oh *OutputHandler) Locate(ctx context.Context, workspace, jobID, output string, format jobspec.Format) (*Artifact, error) {
	path := filepath.Join(workspace, output)

	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() || st.Size() == 0 {
		return nil, errors.New(errors.CodeRenderFailed, "renderer exited cleanly but produced no output").
			WithField("output", output)
	}

	art := &Artifact{
		Path:        path,
		Filename:    SanitizeFilename(fmt.Sprintf("render-%s.%s", jobID, format.Ext)),
		Format:      format.Name,
		ContentType: format.ContentType,
		Size:        st.Size(),
	}

	if oh.prober != nil && format.Kind != jobspec.KindImage {
		info, err := oh.prober.Probe(ctx, path)
		if err != nil {
			oh.log.Debug("output probe failed", "job_id", jobID, "error", err.Error())
		} else {
			art.Duration = info.Duration
		}
	}
	return art, nil
}
