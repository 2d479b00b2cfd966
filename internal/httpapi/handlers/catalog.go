package handlers

import (
	"net/http"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/httpkit"
	"mediarender/internal/jobspec"
)

// Fonts handles GET /v1/fonts.
func (h *Handler) Fonts(w http.ResponseWriter, _ *http.Request) {
	families := []string{}
	if h.fonts != nil {
		families = h.fonts.Families()
	}
	httpkit.WriteJSON(w, http.StatusOK, v1.FontList{Default: h.defaultFamily, Families: families})
}

// Formats handles GET /v1/formats.
func (h *Handler) Formats(w http.ResponseWriter, _ *http.Request) {
	all := jobspec.Formats()
	out := make([]v1.FormatInfo, 0, len(all))
	for _, f := range all {
		info := v1.FormatInfo{
			Name:        f.Name,
			ContentType: f.ContentType,
			Kind:        string(f.Kind),
			Overlays:    f.AcceptsOverlays(),
		}
		if f.AcceptsQuality() {
			info.Qualities = jobspec.QualityNames()
		}
		out = append(out, info)
	}
	httpkit.WriteJSON(w, http.StatusOK, v1.FormatList{Formats: out})
}
