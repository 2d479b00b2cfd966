package handlers

import (
	"context"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/httpkit"
)

// Health handles GET /health. With ?deep=true it also checks the renderer
// binaries, the font registry and the job store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	stats := h.pool.Stats()
	health := v1.Health{
		Status: "ok",
		Time:   time.Now().UTC(),
		Pool: &v1.PoolStats{
			Workers:  stats.Workers,
			Capacity: stats.Capacity,
			Running:  stats.Running,
			Queued:   stats.Queued,
		},
	}

	if deep, _ := strconv.ParseBool(r.URL.Query().Get("deep")); deep {
		health.Checks = h.deepHealthCheck(ctx)
		if h.fonts != nil {
			health.Fonts = h.fonts.Len()
		}
		for name, status := range health.Checks {
			if status != "ok" {
				health.Status = "degraded"
				log.Warn("health check degraded", "check", name, "status", status)
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]string {
	checks := map[string]string{
		"ffmpeg":  lookPath(h.ffmpegBin),
		"ffprobe": lookPath(h.ffprobeBin),
		"fonts":   "ok",
	}
	if h.fonts == nil || h.fonts.Len() == 0 {
		checks["fonts"] = "error: no fonts installed"
	}

	if h.store != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		checks["job_store"] = "ok"
		if err := h.store.Ping(checkCtx); err != nil {
			checks["job_store"] = "error: " + err.Error()
		}
	}
	return checks
}

func lookPath(bin string) string {
	if bin == "" {
		return "error: not configured"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
