package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/httpkit"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SubmitJob handles POST /v1/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) error {
	spec, err := h.decodeSpec(r)
	if err != nil {
		return err
	}

	job, err := h.jobs.Submit(r.Context(), spec)
	if err != nil {
		return err
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	httpkit.WriteJSON(w, http.StatusAccepted, job)
	return nil
}

// ListJobs handles GET /v1/jobs?status=&limit=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	filter := ports.JobFilter{Limit: defaultListLimit}

	if s := strings.TrimSpace(q.Get("status")); s != "" {
		status := v1.JobStatus(strings.ToLower(s))
		if !knownStatus(status) {
			return errors.ValidationField("status", "unknown job status "+strconv.Quote(s))
		}
		filter.Status = status
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxListLimit {
			return errors.ValidationField("limit", "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		}
		filter.Limit = n
	}

	list, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, v1.JobList{Jobs: list, Count: len(list)})
	return nil
}

func knownStatus(s v1.JobStatus) bool {
	switch s {
	case v1.JobQueued, v1.JobRunning, v1.JobSucceeded, v1.JobFailed,
		v1.JobTimedOut, v1.JobCancelled, v1.JobExpired:
		return true
	}
	return false
}

// GetJob handles GET /v1/jobs/{jobId}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) error {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, job)
	return nil
}

// JobEvents handles GET /v1/jobs/{jobId}/events. The stream starts with the
// current snapshot and ends after the first terminal one.
func (h *Handler) JobEvents(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "jobId")
	ctx := r.Context()

	// Subscribe first so nothing published between Get and Subscribe is lost.
	bus := h.jobs.Bus()
	ch := bus.Subscribe(id)
	defer bus.Unsubscribe(id, ch)

	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		return err
	}

	httpkit.SSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := httpkit.SSEWriteJSON(w, "job", job); err != nil || job.Status.Terminal() {
		return nil
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if err := httpkit.SSEKeepAlive(w); err != nil {
				return nil
			}
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if err := httpkit.SSEWriteJSON(w, "job", snap); err != nil {
				return nil
			}
			if snap.Status.Terminal() {
				return nil
			}
		}
	}
}

// JobArtifact handles GET /v1/jobs/{jobId}/artifact. The artifact can be
// downloaded once.
func (h *Handler) JobArtifact(w http.ResponseWriter, r *http.Request) error {
	return h.jobs.DeliverArtifact(w, r, chi.URLParam(r, "jobId"))
}

// DeleteJob handles DELETE /v1/jobs/{jobId}. A queued or running job is
// cancelled and its final record returned; a finished one is forgotten.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) error {
	job, wasLive, err := h.jobs.Cancel(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	if !wasLive {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	httpkit.WriteJSON(w, http.StatusOK, job)
	return nil
}
