package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	v1 "mediarender/internal/contracts/render/v1"
)

// requestFlags builds a RenderRequest either from a JSON file or from
// individual flags. Style flags apply to every --text overlay.
type requestFlags struct {
	specPath string
	input    string
	format   string
	quality  string
	timeout  float64

	texts    []string
	font     string
	size     int
	color    string
	position string
	box      bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.specPath, "spec", "", "Read the full request JSON from a file (- for stdin)")
	fl.StringVarP(&f.input, "input", "i", "", "Input media: path under the media root or http(s)://, gdrive://, s3:// URI")
	fl.StringVarP(&f.format, "format", "f", "", "Output format (mp4, webm, gif, mp3, png, ...)")
	fl.StringVarP(&f.quality, "quality", "q", "", "Resolution preset (best, 1080p, 720p, 480p)")
	fl.Float64Var(&f.timeout, "timeout", 0, "Job timeout in seconds (server default when 0)")
	fl.StringArrayVarP(&f.texts, "text", "t", nil, "Overlay text; repeat for several overlays")
	fl.StringVar(&f.font, "font", "", "Overlay font family")
	fl.IntVar(&f.size, "size", 0, "Overlay font size in pixels")
	fl.StringVar(&f.color, "color", "", "Overlay text color")
	fl.StringVar(&f.position, "position", "", "Overlay anchor, e.g. bottom-center")
	fl.BoolVar(&f.box, "box", false, "Draw a translucent box behind overlay text")
}

func (f *requestFlags) build(stdin io.Reader) (v1.RenderRequest, error) {
	if f.specPath != "" {
		return readSpec(f.specPath, stdin)
	}

	req := v1.RenderRequest{
		Input:        strings.TrimSpace(f.input),
		OutputFormat: strings.TrimSpace(f.format),
		Quality:      strings.TrimSpace(f.quality),
	}
	if req.Input == "" {
		return req, fmt.Errorf("--input is required")
	}
	if req.OutputFormat == "" {
		return req, fmt.Errorf("--format is required")
	}
	if f.timeout > 0 {
		t := f.timeout
		req.TimeoutSeconds = &t
	}

	for _, text := range f.texts {
		o := v1.Overlay{Text: text, Font: f.font, Color: f.color, Box: f.box}
		if f.size > 0 {
			size := f.size
			o.Size = &size
		}
		if f.position != "" {
			o.Position = &v1.Position{Anchor: f.position}
		}
		req.Overlays = append(req.Overlays, o)
	}
	return req, nil
}

func readSpec(path string, stdin io.Reader) (v1.RenderRequest, error) {
	var r io.Reader = stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return v1.RenderRequest{}, err
		}
		defer file.Close()
		r = file
	}

	var req v1.RenderRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("parse spec %s: %w", path, err)
	}
	return req, nil
}
