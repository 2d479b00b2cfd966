package jobspec

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/fonts"
	"mediarender/internal/pkg/errors"
)

// Overlay size bounds, in pixels.
const (
	MinFontSize     = 8
	MaxFontSize     = 512
	DefaultFontSize = 48
	DefaultColor    = "white"
)

// FontResolver finds an installed family.
type FontResolver interface {
	Resolve(family string) (fonts.Face, bool)
}

// SchemeSupporter reports whether remote inputs with a scheme can be fetched.
type SchemeSupporter interface {
	Supports(scheme string) bool
}

// Limits bounds request complexity.
type Limits struct {
	MaxOverlays  int
	MaxTextRunes int
	// MaxTimeout is both the default and the upper bound of a job timeout.
	MaxTimeout time.Duration
}

// ValidatorConfig wires a Validator.
type ValidatorConfig struct {
	MediaRoot     string
	DefaultFamily string
	Fonts         FontResolver
	Sources       SchemeSupporter
	Limits        Limits
}

// Validator is the single admission gate for render requests. It keeps no
// state between calls and only stats the filesystem.
type Validator struct {
	mediaRoot     string
	defaultFamily string
	fonts         FontResolver
	sources       SchemeSupporter
	limits        Limits
}

func NewValidator(cfg ValidatorConfig) *Validator {
	root := cfg.MediaRoot
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	if cfg.Limits.MaxTimeout <= 0 {
		cfg.Limits.MaxTimeout = 600 * time.Second
	}
	if cfg.Limits.MaxTextRunes <= 0 {
		cfg.Limits.MaxTextRunes = 500
	}
	return &Validator{
		mediaRoot:     root,
		defaultFamily: cfg.DefaultFamily,
		fonts:         cfg.Fonts,
		sources:       cfg.Sources,
		limits:        cfg.Limits,
	}
}

// violation is one field-level problem.
type violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type violations []violation

func (vs *violations) add(field, format string, args ...any) {
	*vs = append(*vs, violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

// err reports the first violation as the headline; all of them go into
// the "violations" detail.
func (vs violations) err() error {
	if len(vs) == 0 {
		return nil
	}
	first := vs[0]
	e := errors.ValidationField(first.Field, first.Field+": "+first.Message)
	if len(vs) > 1 {
		e.WithField("violations", []violation(vs))
	}
	return e
}

// Validate checks raw and builds a JobSpec. The returned error is a
// VALIDATION_ERROR carrying the offending field.
func (v *Validator) Validate(raw v1.RenderRequest) (*JobSpec, error) {
	var vs violations
	spec := &JobSpec{}

	spec.input = v.validateInput(raw.Input, &vs)

	format, ok := LookupFormat(raw.OutputFormat)
	switch {
	case strings.TrimSpace(raw.OutputFormat) == "":
		vs.add("output_format", "is required")
	case !ok:
		vs.add("output_format", "unsupported output format %q", raw.OutputFormat)
	}
	spec.format = format

	quality, ok := LookupQuality(raw.Quality)
	switch {
	case !ok:
		vs.add("quality", "unknown quality %q, expected one of %s", raw.Quality, strings.Join(QualityNames(), ", "))
	case format.Kind == KindAudio && strings.TrimSpace(raw.Quality) != "":
		vs.add("quality", "quality does not apply to audio format %s", format.Name)
	}
	spec.quality = quality

	spec.timeout = v.validateTimeout(raw.TimeoutSeconds, &vs)

	if n := len(raw.Overlays); n > 0 {
		if format.Name != "" && !format.AcceptsOverlays() {
			vs.add("overlays", "overlays cannot be drawn into audio format %s", format.Name)
		}
		if v.limits.MaxOverlays > 0 && n > v.limits.MaxOverlays {
			vs.add("overlays", "at most %d overlays allowed, got %d", v.limits.MaxOverlays, n)
		} else {
			spec.overlays = make([]Overlay, 0, n)
			for i, o := range raw.Overlays {
				spec.overlays = append(spec.overlays, v.validateOverlay(fmt.Sprintf("overlays[%d]", i), o, &vs))
			}
		}
	}

	if err := vs.err(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (v *Validator) validateInput(ref string, vs *violations) Input {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		vs.add("input", "is required")
		return Input{}
	}

	if strings.Contains(ref, "://") {
		return v.validateURI(ref, vs)
	}
	return v.validateLocal(ref, vs)
}

func (v *Validator) validateLocal(ref string, vs *violations) Input {
	if v.mediaRoot == "" {
		vs.add("input", "local inputs are not enabled")
		return Input{}
	}

	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.mediaRoot, path)
	}
	path = filepath.Clean(path)
	if !within(v.mediaRoot, path) {
		vs.add("input", "path escapes the media root")
		return Input{}
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		vs.add("input", "media file not found")
		return Input{}
	}
	root, err := filepath.EvalSymlinks(v.mediaRoot)
	if err != nil {
		root = v.mediaRoot
	}
	if !within(root, resolved) {
		vs.add("input", "path escapes the media root")
		return Input{}
	}

	info, err := os.Stat(resolved)
	switch {
	case err != nil:
		vs.add("input", "media file not found")
		return Input{}
	case !info.Mode().IsRegular():
		vs.add("input", "not a regular file")
		return Input{}
	}
	return Input{ref: ref, path: resolved}
}

var driveID = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}$`)

func (v *Validator) validateURI(ref string, vs *violations) Input {
	scheme := strings.ToLower(ref[:strings.Index(ref, "://")])
	if v.sources == nil || !v.sources.Supports(scheme) {
		vs.add("input", "unsupported input scheme %q", scheme)
		return Input{}
	}

	if scheme == "gdrive" {
		id := strings.TrimSuffix(ref[len("gdrive://"):], "/")
		if !driveID.MatchString(id) {
			vs.add("input", "gdrive input must be gdrive://<file id>")
			return Input{}
		}
		return Input{ref: ref, scheme: scheme, uri: "gdrive://" + id}
	}

	u, err := url.Parse(ref)
	if err != nil {
		vs.add("input", "malformed URI")
		return Input{}
	}
	u.Scheme = scheme

	switch scheme {
	case "http", "https":
		if u.Host == "" {
			vs.add("input", "URI has no host")
			return Input{}
		}
		if u.User != nil {
			vs.add("input", "credentials in URI are not accepted")
			return Input{}
		}
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			vs.add("input", "s3 input must be s3://<bucket>/<key>")
			return Input{}
		}
	}
	return Input{ref: ref, scheme: scheme, uri: u.String()}
}

func (v *Validator) validateTimeout(secs *float64, vs *violations) time.Duration {
	if secs == nil {
		return v.limits.MaxTimeout
	}
	s := *secs
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 1 {
		vs.add("timeout_seconds", "must be at least 1")
		return 0
	}
	// Compare in seconds: huge values overflow time.Duration.
	if s > v.limits.MaxTimeout.Seconds() {
		vs.add("timeout_seconds", "must not exceed %d", int(v.limits.MaxTimeout.Seconds()))
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func (v *Validator) validateOverlay(field string, o v1.Overlay, vs *violations) Overlay {
	out := Overlay{Size: DefaultFontSize, Color: DefaultColor, Pos: Position{Anchor: TopLeft}, Box: o.Box}

	out.Text = v.validateText(field+".text", o.Text, vs)

	family := strings.TrimSpace(o.Font)
	if family == "" {
		family = v.defaultFamily
	}
	if face, ok := v.resolveFont(family); ok {
		out.Font = face
	} else {
		vs.add(field+".font", "font family %q is not installed", family)
	}

	if o.Size != nil {
		if *o.Size < MinFontSize || *o.Size > MaxFontSize {
			vs.add(field+".size", "must be between %d and %d", MinFontSize, MaxFontSize)
		} else {
			out.Size = *o.Size
		}
	}

	if strings.TrimSpace(o.Color) != "" {
		if c, ok := normalizeColor(o.Color); ok {
			out.Color = c
		} else {
			vs.add(field+".color", "unknown color %q", o.Color)
		}
	}

	if o.Position != nil {
		if pos, ok := validatePosition(*o.Position); ok {
			out.Pos = pos
		} else {
			vs.add(field+".position", "must be one of the nine anchors or non-negative {x,y}")
		}
	}

	if o.Start != nil {
		if *o.Start < 0 || math.IsNaN(*o.Start) || math.IsInf(*o.Start, 0) {
			vs.add(field+".start", "must be a non-negative number of seconds")
		} else {
			out.Start = *o.Start
		}
	}
	if o.End != nil {
		switch {
		case math.IsNaN(*o.End) || math.IsInf(*o.End, 0):
			vs.add(field+".end", "must be a number of seconds")
		case *o.End <= out.Start:
			vs.add(field+".end", "must be greater than start")
		default:
			out.End = *o.End
		}
	}

	return out
}

func (v *Validator) resolveFont(family string) (fonts.Face, bool) {
	if v.fonts == nil || family == "" {
		return fonts.Face{}, false
	}
	return v.fonts.Resolve(family)
}

func (v *Validator) validateText(field, text string, vs *violations) string {
	if !utf8.ValidString(text) {
		vs.add(field, "must be valid UTF-8")
		return ""
	}
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		vs.add(field, "must not be empty")
		return ""
	}
	if n := utf8.RuneCountInString(text); n > v.limits.MaxTextRunes {
		vs.add(field, "at most %d characters allowed, got %d", v.limits.MaxTextRunes, n)
		return ""
	}
	for _, r := range text {
		if r != '\n' && r != '\t' && unicode.IsControl(r) {
			vs.add(field, "control character U+%04X not allowed", r)
			return ""
		}
	}
	return text
}

func validatePosition(p v1.Position) (Position, bool) {
	if p.Anchor != "" {
		a := Anchor(strings.ToLower(strings.TrimSpace(p.Anchor)))
		if a == "middle" {
			a = Center
		}
		if !anchors[a] || p.X != nil || p.Y != nil {
			return Position{}, false
		}
		return Position{Anchor: a}, true
	}
	if p.X == nil || p.Y == nil || *p.X < 0 || *p.Y < 0 {
		return Position{}, false
	}
	return Position{X: *p.X, Y: *p.Y}, true
}

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

var namedColors = map[string]bool{
	"white": true, "black": true, "red": true, "green": true, "blue": true,
	"yellow": true, "cyan": true, "magenta": true, "gray": true, "grey": true,
	"orange": true, "purple": true, "pink": true, "brown": true, "navy": true,
	"gold": true, "silver": true, "transparent": true,
}

// normalizeColor returns a value ffmpeg's color parser accepts.
func normalizeColor(c string) (string, bool) {
	c = strings.TrimSpace(c)
	if hexColor.MatchString(c) {
		return "0x" + strings.ToUpper(c[1:]), true
	}
	lc := strings.ToLower(c)
	if namedColors[lc] {
		return lc, true
	}
	return "", false
}

// within reports whether path is root or below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
