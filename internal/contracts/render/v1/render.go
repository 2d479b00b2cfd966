// Package v1 is the JSON contract of the render API.
package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RenderRequest is the body of POST /v1/render and POST /v1/jobs.
// - input: media path relative to the media root, or http(s)://, gdrive://, s3:// URI
// - output_format: container/codec family of the artifact
// - overlays: drawn in order, later overlays on top
type RenderRequest struct {
	Input          string    `json:"input"`
	OutputFormat   string    `json:"output_format"`
	Quality        string    `json:"quality,omitempty"`
	TimeoutSeconds *float64  `json:"timeout_seconds,omitempty"`
	Overlays       []Overlay `json:"overlays,omitempty"`
}

// Overlay is one caption burned into the frames.
type Overlay struct {
	Text     string    `json:"text"`
	Font     string    `json:"font,omitempty"`
	Size     *int      `json:"size,omitempty"`
	Color    string    `json:"color,omitempty"`
	Position *Position `json:"position,omitempty"`
	Start    *float64  `json:"start,omitempty"`
	End      *float64  `json:"end,omitempty"`
	Box      bool      `json:"box,omitempty"`
}

// Position is either a named anchor ("top-left") or explicit pixel
// coordinates ({"x":10,"y":20}).
type Position struct {
	Anchor string
	X, Y   *int
}

func (p Position) MarshalJSON() ([]byte, error) {
	if p.Anchor != "" {
		return json.Marshal(p.Anchor)
	}
	return json.Marshal(struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}{p.X, p.Y})
}

func (p *Position) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.Anchor)
	}

	var xy struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&xy); err != nil {
		return fmt.Errorf("position must be an anchor name or {\"x\":..,\"y\":..}: %w", err)
	}
	p.X, p.Y = xy.X, xy.Y
	return nil
}

// JobStatus is the lifecycle state of an asynchronous job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobTimedOut  JobStatus = "timed_out"
	JobCancelled JobStatus = "cancelled"
	JobExpired   JobStatus = "expired"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobQueued, JobRunning:
		return false
	default:
		return true
	}
}

// Job is the public view of an asynchronous render.
type Job struct {
	ID           string       `json:"id"`
	Status       JobStatus    `json:"status"`
	Progress     float64      `json:"progress"`
	Input        string       `json:"input"`
	OutputFormat string       `json:"output_format"`
	Error        *JobError    `json:"error,omitempty"`
	Artifact     *ArtifactRef `json:"artifact,omitempty"`
	Delivered    bool         `json:"delivered,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}

// JobError carries the same kind/message pair as the sync error envelope.
type JobError struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ArtifactRef describes a finished artifact waiting for download.
type ArtifactRef struct {
	Filename        string  `json:"filename"`
	ContentType     string  `json:"content_type"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// JobList is the body of GET /v1/jobs.
type JobList struct {
	Jobs  []Job `json:"jobs"`
	Count int   `json:"count"`
}

// FontList is the body of GET /v1/fonts.
type FontList struct {
	Default  string   `json:"default"`
	Families []string `json:"families"`
}

// FormatInfo describes one supported output format.
type FormatInfo struct {
	Name        string   `json:"name"`
	ContentType string   `json:"content_type"`
	Kind        string   `json:"kind"`
	Overlays    bool     `json:"overlays"`
	Qualities   []string `json:"qualities,omitempty"`
}

// FormatList is the body of GET /v1/formats.
type FormatList struct {
	Formats []FormatInfo `json:"formats"`
}

// Health is the body of GET /health.
type Health struct {
	Status string            `json:"status"`
	Time   time.Time         `json:"time"`
	Checks map[string]string `json:"checks,omitempty"`
	Fonts  int               `json:"fonts,omitempty"`
	Pool   *PoolStats        `json:"pool,omitempty"`
}

// PoolStats is a snapshot of render capacity.
type PoolStats struct {
	Workers  int `json:"workers"`
	Capacity int `json:"capacity"`
	Running  int `json:"running"`
	Queued   int `json:"queued"`
}

// Response headers set on a successful sync render.
const (
	HeaderJobID    = "X-Render-Job-Id"
	HeaderDuration = "X-Render-Duration"
	HeaderSize     = "X-Render-Size"
	HeaderFormat   = "X-Render-Format"
)
