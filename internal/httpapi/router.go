// Package httpapi assembles the renderd HTTP surface.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediarender/internal/httpapi/handlers"
	"mediarender/internal/httpkit"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/pkg/middleware"
)

type Deps struct {
	Handlers       handlers.Deps
	AllowedOrigins []string
	MaxBodyBytes   int64
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := logger.OrDiscard(d.Log).WithComponent("http")
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{AllowedOrigins: d.AllowedOrigins}))

	d.Handlers.Log = log
	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	maxBody := d.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 10
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, errors.CodeNotFound, "no route for "+r.Method+" "+r.URL.Path, nil)
	})

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/fonts", h.Fonts)
		r.Get("/formats", h.Formats)

		// ---- RENDER ----
		r.With(middleware.MaxBody(maxBody)).Post("/render", wrap(h.Render))

		// ---- JOBS ----
		r.With(middleware.MaxBody(maxBody)).Post("/jobs", wrap(h.SubmitJob))
		r.Get("/jobs", wrap(h.ListJobs))
		r.Get("/jobs/{jobId}", wrap(h.GetJob))
		r.Get("/jobs/{jobId}/events", wrap(h.JobEvents))
		r.Get("/jobs/{jobId}/artifact", wrap(h.JobArtifact))
		r.Delete("/jobs/{jobId}", wrap(h.DeleteJob))
	})

	return r
}
