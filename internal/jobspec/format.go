package jobspec

import (
	"sort"
	"strings"
)

// MediaKind groups formats by what ffmpeg has to produce.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	KindImage MediaKind = "image"
)

// Format is one entry of the output allow-list.
type Format struct {
	Name        string
	Ext         string
	ContentType string
	Kind        MediaKind
}

// AcceptsOverlays reports whether text can be drawn into this format.
func (f Format) AcceptsOverlays() bool {
	return f.Kind != KindAudio
}

// AcceptsQuality reports whether a resolution preset applies.
func (f Format) AcceptsQuality() bool {
	return f.Kind != KindAudio
}

var formats = map[string]Format{
	"mp4":  {Name: "mp4", Ext: "mp4", ContentType: "video/mp4", Kind: KindVideo},
	"webm": {Name: "webm", Ext: "webm", ContentType: "video/webm", Kind: KindVideo},
	"mov":  {Name: "mov", Ext: "mov", ContentType: "video/quicktime", Kind: KindVideo},
	"mkv":  {Name: "mkv", Ext: "mkv", ContentType: "video/x-matroska", Kind: KindVideo},
	"gif":  {Name: "gif", Ext: "gif", ContentType: "image/gif", Kind: KindVideo},
	"mp3":  {Name: "mp3", Ext: "mp3", ContentType: "audio/mpeg", Kind: KindAudio},
	"m4a":  {Name: "m4a", Ext: "m4a", ContentType: "audio/mp4", Kind: KindAudio},
	"png":  {Name: "png", Ext: "png", ContentType: "image/png", Kind: KindImage},
	"jpg":  {Name: "jpg", Ext: "jpg", ContentType: "image/jpeg", Kind: KindImage},
}

// LookupFormat finds a format by name, ignoring case. "jpeg" is accepted
// as an alias of "jpg".
func LookupFormat(name string) (Format, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "jpeg" {
		n = "jpg"
	}
	f, ok := formats[n]
	return f, ok
}

// Formats returns the allow-list sorted by name.
func Formats() []Format {
	out := make([]Format, 0, len(formats))
	for _, f := range formats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Quality is a resolution preset. Height 0 keeps the source resolution.
type Quality struct {
	Name   string
	Height int
}

var (
	QualityBest  = Quality{Name: "best"}
	Quality1080p = Quality{Name: "1080p", Height: 1080}
	Quality720p  = Quality{Name: "720p", Height: 720}
	Quality480p  = Quality{Name: "480p", Height: 480}
)

var qualities = []Quality{QualityBest, Quality1080p, Quality720p, Quality480p}

// LookupQuality resolves a preset name; empty means best.
func LookupQuality(name string) (Quality, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return QualityBest, true
	}
	for _, q := range qualities {
		if q.Name == n {
			return q, true
		}
	}
	return Quality{}, false
}

// QualityNames lists the presets in descending resolution.
func QualityNames() []string {
	out := make([]string, len(qualities))
	for i, q := range qualities {
		out[i] = q.Name
	}
	return out
}
