// Package publish hands a finished render to the HTTP caller and reclaims
// its workspace afterwards.
package publish

import (
	"mime"
	"net/http"
	"os"
	"strconv"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/pkg/middleware"
	"mediarender/internal/worker/processor"
)

// Outcome says how a delivery ended.
type Outcome string

const (
	// Delivered means the artifact bytes were written in full.
	Delivered Outcome = "delivered"
	// DeliveryFailed means the artifact existed but the transfer broke.
	DeliveryFailed Outcome = "delivery_failed"
	// ErrorReported means the job failed and its error body was sent.
	ErrorReported Outcome = "error_reported"
)

type Publisher struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Publisher {
	return &Publisher{log: logger.OrDiscard(log).WithComponent("publisher")}
}

// Deliver writes the result of h to w and releases the handle, whatever
// happens during the transfer. Range requests are honoured for artifacts.
func (p *Publisher) Deliver(w http.ResponseWriter, r *http.Request, h *processor.Handle) Outcome {
	log := p.log.FromContext(r.Context()).WithJobID(h.ID())
	defer func() {
		if err := h.Release(); err != nil {
			log.Warn("workspace release failed", "error", err.Error())
		}
	}()

	res := h.Result()
	if res.Err != nil {
		WriteFailure(w, h.ID(), res.Err)
		return ErrorReported
	}

	art := res.Artifact
	f, err := os.Open(art.Path)
	if err != nil {
		log.Error("artifact missing at delivery", "path", art.Path, "error", err.Error())
		middleware.WriteErrorResponse(w, errors.CodeInternal, "artifact is no longer available",
			map[string]any{"job_id": h.ID()})
		return DeliveryFailed
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		log.Error("artifact stat failed", "error", err.Error())
		middleware.WriteErrorResponse(w, errors.CodeInternal, "artifact is no longer available",
			map[string]any{"job_id": h.ID()})
		return DeliveryFailed
	}

	SetArtifactHeaders(w.Header(), h.ID(), art)

	cw := &countingWriter{ResponseWriter: w}
	http.ServeContent(cw, r, art.Filename, st.ModTime(), f)

	if cw.err != nil || r.Context().Err() != nil {
		log.Warn("artifact delivery interrupted", "written", cw.n, "size", art.Size)
		return DeliveryFailed
	}
	log.Debug("artifact delivered", "written", cw.n, "status", cw.status)
	return Delivered
}

// SetArtifactHeaders describes the artifact to the client.
func SetArtifactHeaders(hd http.Header, jobID string, art *processor.Artifact) {
	hd.Set("Content-Type", art.ContentType)
	hd.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Filename}))
	hd.Set("Cache-Control", "no-store")
	hd.Set(v1.HeaderJobID, jobID)
	hd.Set(v1.HeaderFormat, art.Format)
	hd.Set(v1.HeaderSize, strconv.FormatInt(art.Size, 10))
	hd.Set(v1.HeaderDuration, strconv.FormatFloat(art.Duration.Seconds(), 'f', 3, 64))
}

// WriteFailure sends the structured error of a failed job. No artifact
// bytes are ever written on this path.
func WriteFailure(w http.ResponseWriter, jobID string, e *errors.Error) {
	details := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		details[k] = v
	}
	details["job_id"] = jobID
	w.Header().Set(v1.HeaderJobID, jobID)
	middleware.WriteErrorResponse(w, e.Code, e.Message, details)
}

type countingWriter struct {
	http.ResponseWriter
	n      int64
	status int
	err    error
}

func (c *countingWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.ResponseWriter.Write(b)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
