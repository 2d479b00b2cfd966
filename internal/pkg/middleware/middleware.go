// Package middleware provides HTTP middleware for the render service.
package middleware

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RetryAfterSeconds is advertised on every OVERLOADED response.
const RetryAfterSeconds = 5

const maxRequestIDLen = 64

// statusRecorder remembers what was sent so the access log and the
// recovery handler can see it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status != 0 {
		return
	}
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// Flush keeps event streams working through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// RequestID propagates a caller-supplied X-Request-ID when it looks sane
// and mints one otherwise.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// Logging writes one access log line per request, at warn for 4xx and
// error for 5xx.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", rec.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Recovery turns a handler panic into an INTERNAL_ERROR envelope when
// nothing has been written yet.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				log.ErrorContext(r.Context(), "handler panic",
					"panic", p,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				if rec.status == 0 {
					WriteErrorResponse(rec, errors.CodeInternal, "internal server error", nil)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// MaxBody rejects declared oversize bodies up front and caps the rest, so
// handlers see a *http.MaxBytesError that HandleError reports as
// PAYLOAD_TOO_LARGE.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				WriteErrorResponse(w, errors.CodePayloadTooLarge, "request body too large",
					map[string]any{"limit_bytes": limit})
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandlerFunc reports failure by returning an error instead of
// writing a response.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request) error

func WrapHandler(log *logger.Logger, fn ErrorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			HandleError(w, r, log, err)
		}
	}
}

// HandleError logs err and writes its envelope. Only unexpected 5xx
// errors are logged at error level with a stack; render failures and
// timeouts are job outcomes, not server faults.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	appErr := classify(err)
	code := appErr.Code

	attrs := []any{
		"error", err.Error(),
		"code", string(code),
		"status", code.HTTPStatus(),
		"path", r.URL.Path,
	}
	for k, v := range appErr.Fields {
		attrs = append(attrs, k, v)
	}

	switch code {
	case errors.CodeInternal, errors.CodeUnavailable:
		if len(appErr.Stack) > 0 {
			attrs = append(attrs, "stack", appErr.StackTrace())
		}
		log.ErrorContext(r.Context(), "request failed", attrs...)
	default:
		log.WarnContext(r.Context(), "request rejected", attrs...)
	}

	msg := appErr.Message
	if code == errors.CodeInternal {
		msg = "internal server error"
	}
	WriteErrorResponse(w, code, msg, appErr.Fields)
}

// classify returns the outermost coded error in err's chain, mapping body
// limit errors and uncoded errors first.
func classify(err error) *errors.Error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.WrapWithCode(err, errors.CodePayloadTooLarge, "request.body", "request body too large").
			WithField("limit_bytes", tooLarge.Limit)
	}
	var appErr *errors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return errors.WrapWithCode(err, errors.CodeInternal, "", "internal server error")
}

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Code    errors.Code    `json:"code"`
	Kind    errors.Kind    `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func WriteErrorResponse(w http.ResponseWriter, code errors.Code, message string, details map[string]any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if code == errors.CodeOverloaded {
		h.Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	w.WriteHeader(code.HTTPStatus())

	_ = json.NewEncoder(w).Encode(ErrorEnvelope{Error: ErrorBody{
		Code:    code,
		Kind:    code.Kind(),
		Message: message,
		Details: details,
	}})
}
