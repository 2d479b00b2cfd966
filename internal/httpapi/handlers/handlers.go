// Package handlers implements the renderd HTTP endpoints.
package handlers

import (
	"context"
	"time"

	"mediarender/internal/fonts"
	"mediarender/internal/jobs"
	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/ports"
	"mediarender/internal/publish"
	"mediarender/internal/worker"
	"mediarender/internal/worker/processor"
)

// RenderPool is the part of *worker.Pool the handlers use.
type RenderPool interface {
	Submit(ctx context.Context, jobID string, spec *jobspec.JobSpec, hooks processor.Hooks) (*processor.Handle, error)
	Stats() worker.Stats
}

type Deps struct {
	Validator *jobspec.Validator
	Pool      RenderPool
	Publisher *publish.Publisher
	Jobs      *jobs.Manager
	Store     ports.JobStore
	Fonts     *fonts.Registry

	DefaultFamily string
	FFmpegBin     string
	FFprobeBin    string
	// KeepAlive is the SSE comment interval; 15s when zero.
	KeepAlive time.Duration
	Log       *logger.Logger
}

type Handler struct {
	validator     *jobspec.Validator
	pool          RenderPool
	publisher     *publish.Publisher
	jobs          *jobs.Manager
	store         ports.JobStore
	fonts         *fonts.Registry
	defaultFamily string
	ffmpegBin     string
	ffprobeBin    string
	keepAlive     time.Duration
	log           *logger.Logger
}

func New(d Deps) *Handler {
	keepAlive := d.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Handler{
		validator:     d.Validator,
		pool:          d.Pool,
		publisher:     d.Publisher,
		jobs:          d.Jobs,
		store:         d.Store,
		fonts:         d.Fonts,
		defaultFamily: d.DefaultFamily,
		ffmpegBin:     d.FFmpegBin,
		ffprobeBin:    d.FFprobeBin,
		keepAlive:     keepAlive,
		log:           logger.OrDiscard(d.Log),
	}
}
