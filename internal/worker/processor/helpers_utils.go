package processor

import (
	"path"
	"strings"
	"unicode/utf8"
)

// maxDiagnosticChars bounds the stderr excerpt carried by a failure.
const maxDiagnosticChars = 2000

// SanitizeFilename strips path separators and traversal from a name.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "output"
	}
	return s
}

// ExtFromMime maps a content type to a file extension ffmpeg can use to
// pick a demuxer.
func ExtFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/aac":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ""
	}
}

// inputExt prefers the extension in the source name and falls back to the
// content type.
func inputExt(name, contentType string) string {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) > 1 && len(ext) <= 6 && !strings.ContainsAny(ext, " /\\") {
		return ext
	}
	return ExtFromMime(contentType)
}

// excerpt keeps the last max characters of s, starting on a rune boundary
// and, where possible, on a line boundary.
func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	s = s[len(s)-max:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}

// lastLine is the most specific line of a diagnostic, used in messages.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
