package processor

import (
	"fmt"
	"strconv"
	"strings"

	"mediarender/internal/jobspec"
)

// overlayMargin keeps anchored text off the frame edge, in pixels.
const overlayMargin = 20

// gifFrameRate is the frame rate of animated GIF output.
const gifFrameRate = 15

// TextFile is written into the workspace before the renderer starts.
type TextFile struct {
	Name    string
	Content string
}

// Invocation is the complete ffmpeg command line for one job. Paths other
// than the input are relative to the workspace.
type Invocation struct {
	Args   []string
	Files  []TextFile
	Output string
}

// BuildInvocation derives the argv from the spec alone, so the same spec
// and input path always give the same command. Overlays are drawn in spec
// order; later ones end up on top.
func BuildInvocation(spec *jobspec.JobSpec, inputPath string) Invocation {
	format := spec.Format()
	inv := Invocation{Output: "output." + format.Ext}

	inv.Args = []string{
		"-hide_banner",
		"-nostdin",
		"-nostats",
		"-loglevel", "warning",
		"-progress", "pipe:1",
		"-y",
		"-i", inputPath,
	}

	var filters []string
	if format.Name == "gif" {
		filters = append(filters, fmt.Sprintf("fps=%d", gifFrameRate))
	}
	if h := spec.Quality().Height; h > 0 && format.AcceptsQuality() {
		filters = append(filters, fmt.Sprintf("scale=-2:'min(ih,%d)'", h))
	}
	if format.AcceptsOverlays() {
		for i, o := range spec.Overlays() {
			name := fmt.Sprintf("overlay_%02d.txt", i)
			inv.Files = append(inv.Files, TextFile{Name: name, Content: o.Text})
			filters = append(filters, drawtext(o, name))
		}
	}
	if len(filters) > 0 {
		inv.Args = append(inv.Args, "-vf", strings.Join(filters, ","))
	}

	inv.Args = append(inv.Args, codecArgs(format)...)
	inv.Args = append(inv.Args, inv.Output)
	return inv
}

func codecArgs(f jobspec.Format) []string {
	switch f.Name {
	case "mp4":
		return []string{
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "+faststart",
		}
	case "mov", "mkv":
		return []string{
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
		}
	case "webm":
		return []string{
			"-c:v", "libvpx-vp9", "-crf", "32", "-b:v", "0", "-row-mt", "1",
			"-c:a", "libopus", "-b:a", "128k",
		}
	case "gif":
		return []string{"-an", "-loop", "0"}
	case "mp3":
		return []string{"-vn", "-c:a", "libmp3lame", "-q:a", "2"}
	case "m4a":
		return []string{"-vn", "-c:a", "aac", "-b:a", "192k"}
	case "png":
		return []string{"-an", "-frames:v", "1"}
	case "jpg":
		return []string{"-an", "-frames:v", "1", "-q:v", "2"}
	}
	return nil
}

// drawtext renders one overlay filter. The text itself is read from a
// file with expansion off, so it never needs escaping.
func drawtext(o jobspec.Overlay, textFile string) string {
	opts := make([]string, 0, 12)

	if o.Font.InCollection() || o.Font.Path == "" {
		opts = append(opts, "font="+filterValue(o.Font.Family))
	} else {
		opts = append(opts, "fontfile="+filterValue(o.Font.Path))
	}
	opts = append(opts,
		"textfile="+filterValue(textFile),
		"expansion=none",
		"fontsize="+strconv.Itoa(o.Size),
		"fontcolor="+filterValue(o.Color),
	)

	x, y := positionExpr(o.Pos)
	opts = append(opts, "x="+filterValue(x), "y="+filterValue(y))

	if o.Box {
		opts = append(opts, "box=1", "boxcolor=black@0.5", "boxborderw=10")
	}
	if o.Timed() {
		opts = append(opts, "enable="+filterValue(enableExpr(o.Start, o.End)))
	}
	return "drawtext=" + strings.Join(opts, ":")
}

func positionExpr(p jobspec.Position) (string, string) {
	if p.Explicit() {
		return strconv.Itoa(p.X), strconv.Itoa(p.Y)
	}

	m := strconv.Itoa(overlayMargin)
	left, centerX, right := m, "(w-text_w)/2", "w-text_w-"+m
	top, centerY, bottom := m, "(h-text_h)/2", "h-text_h-"+m

	switch p.Anchor {
	case jobspec.TopCenter:
		return centerX, top
	case jobspec.TopRight:
		return right, top
	case jobspec.CenterLeft:
		return left, centerY
	case jobspec.Center:
		return centerX, centerY
	case jobspec.CenterRight:
		return right, centerY
	case jobspec.BottomLeft:
		return left, bottom
	case jobspec.BottomCenter:
		return centerX, bottom
	case jobspec.BottomRight:
		return right, bottom
	default:
		return left, top
	}
}

func enableExpr(start, end float64) string {
	if end > 0 {
		return fmt.Sprintf("between(t,%s,%s)", seconds(start), seconds(end))
	}
	return fmt.Sprintf("gte(t,%s)", seconds(start))
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	optionEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	graphEscaper  = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`)
)

// filterValue escapes v for use as a filter option value inside a
// filtergraph: first for the option parser, then for the graph parser.
func filterValue(v string) string {
	return graphEscaper.Replace(optionEscaper.Replace(v))
}
