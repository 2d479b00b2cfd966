package handlers

import (
	"context"
	"net/http"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/httpkit"
	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/worker/processor"
	"mediarender/internal/worker/util"
)

// decodeSpec reads and validates a render request. Nothing is spawned for
// a request that fails here.
func (h *Handler) decodeSpec(r *http.Request) (*jobspec.JobSpec, error) {
	var req v1.RenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.validator.Validate(req)
}

// Render handles POST /v1/render: the artifact is rendered while the
// client waits and streamed back in the response body.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) error {
	spec, err := h.decodeSpec(r)
	if err != nil {
		return err
	}

	id := util.NewID("job")
	w.Header().Set(v1.HeaderJobID, id)

	// A client that hangs up cancels the job through the same path as a
	// timeout, tagged as a client cancellation.
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(r.Context()))
	defer cancel(nil)
	stop := context.AfterFunc(r.Context(), func() { cancel(processor.ErrClientCancelled) })
	defer stop()
	ctx = logger.ContextWithJobID(ctx, id)

	handle, err := h.pool.Submit(ctx, id, spec, processor.Hooks{})
	if err != nil {
		return err
	}

	outcome := h.publisher.Deliver(w, r, handle)
	h.log.FromContext(ctx).Debug("sync render handed off", "outcome", string(outcome))
	return nil
}
