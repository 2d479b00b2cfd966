package httpkit

import (
	"net/http"
	"strconv"
	"strings"

	v1 "mediarender/internal/contracts/render/v1"
)

type CORSOptions struct {
	// AllowedOrigins may contain "*". Blank entries are ignored.
	AllowedOrigins []string
	// ExposedHeaders defaults to RenderExposedHeaders.
	ExposedHeaders []string
	MaxAge         int
}

// RenderExposedHeaders lets browser clients read artifact metadata.
var RenderExposedHeaders = []string{
	"Content-Disposition",
	v1.HeaderJobID,
	v1.HeaderDuration,
	v1.HeaderSize,
	v1.HeaderFormat,
	"Retry-After",
}

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Accept, Range, X-Request-ID, Last-Event-ID"
)

// CORS answers preflights for allowed origins and marks their responses
// readable. Other origins pass through untouched; a preflight from them
// still ends here with 204 and no grant.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	origins := make(map[string]struct{}, len(opt.AllowedOrigins))
	for _, o := range opt.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	_, wildcard := origins["*"]

	exposed := opt.ExposedHeaders
	if len(exposed) == 0 {
		exposed = RenderExposedHeaders
	}
	exposeValue := strings.Join(exposed, ", ")
	maxAge := opt.MaxAge
	if maxAge <= 0 {
		maxAge = 600
	}
	maxAgeValue := strconv.Itoa(maxAge)

	allowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		_, ok := origins[origin]
		return ok || wildcard
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			h := w.Header()

			if allowed(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Expose-Headers", exposeValue)
				if preflight {
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Max-Age", maxAgeValue)
				}
			}

			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
