package worker

import (
	"context"
	"time"

	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/worker/processor"
)

// Renderer executes one admitted job. *processor.Processor implements it.
type Renderer interface {
	Render(ctx context.Context, jobID string, spec *jobspec.JobSpec, deadline time.Time, hooks processor.Hooks) *processor.Handle
}

type Deps struct {
	Renderer Renderer
	// Workers is the number of renders allowed to run at once.
	Workers int
	// QueueDepth is how many admitted jobs may wait for a worker.
	QueueDepth int
	Log        *logger.Logger
}
