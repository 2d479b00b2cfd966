// Package jobspec turns raw render requests into immutable JobSpecs.
package jobspec

import (
	"net/url"
	"time"

	"mediarender/internal/fonts"
)

// Input is the media the job reads. Exactly one of the local path or the
// remote URI is set.
type Input struct {
	ref    string
	path   string
	scheme string
	uri    string
}

// Ref is the reference as the caller wrote it.
func (in Input) Ref() string { return in.ref }

// IsLocal reports whether the input is a file under the media root.
func (in Input) IsLocal() bool { return in.path != "" }

// Path is the absolute local path; empty for remote inputs.
func (in Input) Path() string { return in.path }

// Scheme is the URI scheme of a remote input.
func (in Input) Scheme() string { return in.scheme }

// URI returns a freshly parsed copy of the remote reference.
func (in Input) URI() *url.URL {
	if in.uri == "" {
		return nil
	}
	u, _ := url.Parse(in.uri)
	return u
}

func (in Input) String() string { return in.ref }

// Anchor names a position relative to the frame edges.
type Anchor string

const (
	TopLeft      Anchor = "top-left"
	TopCenter    Anchor = "top-center"
	TopRight     Anchor = "top-right"
	CenterLeft   Anchor = "center-left"
	Center       Anchor = "center"
	CenterRight  Anchor = "center-right"
	BottomLeft   Anchor = "bottom-left"
	BottomCenter Anchor = "bottom-center"
	BottomRight  Anchor = "bottom-right"
)

var anchors = map[Anchor]bool{
	TopLeft: true, TopCenter: true, TopRight: true,
	CenterLeft: true, Center: true, CenterRight: true,
	BottomLeft: true, BottomCenter: true, BottomRight: true,
}

// Position places an overlay either by anchor or at explicit pixels.
type Position struct {
	Anchor Anchor
	X, Y   int
}

// Explicit reports whether the position uses pixel coordinates.
func (p Position) Explicit() bool { return p.Anchor == "" }

// Overlay is one validated caption.
type Overlay struct {
	Text  string
	Font  fonts.Face
	Size  int
	Color string
	Pos   Position
	Box   bool
	// Start and End bound the visible interval in seconds. End 0 means
	// until the end of the input.
	Start float64
	End   float64
}

// Timed reports whether the overlay is limited to an interval.
func (o Overlay) Timed() bool { return o.Start > 0 || o.End > 0 }

// JobSpec is the validated, immutable description of one render.
type JobSpec struct {
	input    Input
	format   Format
	quality  Quality
	overlays []Overlay
	timeout  time.Duration
}

func (s *JobSpec) Input() Input           { return s.input }
func (s *JobSpec) Format() Format         { return s.format }
func (s *JobSpec) Quality() Quality       { return s.quality }
func (s *JobSpec) Timeout() time.Duration { return s.timeout }

// Overlays returns a copy in render order; later entries draw on top.
func (s *JobSpec) Overlays() []Overlay {
	out := make([]Overlay, len(s.overlays))
	copy(out, s.overlays)
	return out
}

// NumOverlays avoids the copy when only the count is needed.
func (s *JobSpec) NumOverlays() int { return len(s.overlays) }
