// Package errors provides coded errors for the render service.
// Each code maps to a public error kind and an HTTP status so every job
// outcome has one documented response shape.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code is the machine-readable error code carried in the envelope.
type Code string

const (
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	CodeRenderFailed    Code = "RENDER_FAILED"
	CodeTimedOut        Code = "TIMED_OUT"
	CodeCancelled       Code = "CANCELLED"
	CodeOverloaded      Code = "OVERLOADED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
)

// Kind is the caller-facing error category. Clients branch on it to decide
// whether a retry makes sense.
type Kind string

const (
	KindValidation   Kind = "ValidationError"
	KindRenderFailed Kind = "RenderFailed"
	KindTimedOut     Kind = "TimedOut"
	KindCancelled    Kind = "Cancelled"
	KindOverloaded   Kind = "Overloaded"
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "Conflict"
	KindUnavailable  Kind = "Unavailable"
	KindInternal     Kind = "Internal"
)

// StatusClientClosedRequest is the non-standard status used when the caller
// went away before the job finished.
const StatusClientClosedRequest = 499

type classification struct {
	kind   Kind
	status int
}

var classes = map[Code]classification{
	CodeValidation:      {KindValidation, http.StatusBadRequest},
	CodePayloadTooLarge: {KindValidation, http.StatusRequestEntityTooLarge},
	CodeNotFound:        {KindNotFound, http.StatusNotFound},
	CodeConflict:        {KindConflict, http.StatusConflict},
	CodeOverloaded:      {KindOverloaded, http.StatusTooManyRequests},
	CodeCancelled:       {KindCancelled, StatusClientClosedRequest},
	CodeRenderFailed:    {KindRenderFailed, http.StatusBadGateway},
	CodeUnavailable:     {KindUnavailable, http.StatusServiceUnavailable},
	CodeTimedOut:        {KindTimedOut, http.StatusGatewayTimeout},
	CodeInternal:        {KindInternal, http.StatusInternalServerError},
}

func (c Code) class() classification {
	if cl, ok := classes[c]; ok {
		return cl
	}
	return classes[CodeInternal]
}

// Kind returns the public kind for the code. Unknown codes are Internal.
func (c Code) Kind() Kind { return c.class().kind }

// HTTPStatus returns the status written when this code reaches a client.
func (c Code) HTTPStatus() int { return c.class().status }

// Error is a coded error. Op names the failing operation
// ("processor.render"); Fields become the envelope's details.
type Error struct {
	Code    Code
	Message string
	Op      string
	Err     error
	Fields  map[string]any
	Stack   []Frame
}

// Frame is one captured call site.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op+":")
	}
	if e.Code != "" {
		parts = append(parts, "["+string(e.Code)+"]")
	}
	parts = append(parts, e.Message)
	msg := strings.Join(parts, " ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithField sets one detail and returns e for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = value
	return e
}

func (e *Error) Kind() Kind      { return e.Code.Kind() }
func (e *Error) HTTPStatus() int { return e.Code.HTTPStatus() }

// StackTrace formats the captured frames one per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack(3)}
}

func New(code Code, message string) *Error {
	return newError(code, message)
}

func Newf(code Code, format string, args ...any) *Error {
	return newError(code, fmt.Sprintf(format, args...))
}

// Wrap adds op and message to err. A coded err keeps its code and fields;
// anything else becomes INTERNAL_ERROR.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	w := &Error{Code: CodeInternal, Message: message, Op: op, Err: err, Stack: captureStack(2)}
	var inner *Error
	if errors.As(err, &inner) {
		w.Code = inner.Code
		w.Fields = inner.Fields
	}
	return w
}

// WrapWithCode wraps err under an explicit code.
func WrapWithCode(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

// NotFound reports a missing resource, e.g. NotFound("job", id).
func NotFound(resource, id string) *Error {
	return newError(CodeNotFound, resource+" not found: "+id).
		WithField("resource", resource).
		WithField("id", id)
}

func Validation(message string) *Error {
	return newError(CodeValidation, message)
}

func Validationf(format string, args ...any) *Error {
	return newError(CodeValidation, fmt.Sprintf(format, args...))
}

// ValidationField rejects one request field; field uses JSON paths such as
// "overlays[2].font".
func ValidationField(field, message string) *Error {
	return newError(CodeValidation, message).WithField("field", field)
}

func Conflict(message string) *Error {
	return newError(CodeConflict, message)
}

// Overloaded is returned when no admission ticket is left.
func Overloaded(capacity int) *Error {
	return newError(CodeOverloaded, "render capacity exhausted, retry later").
		WithField("capacity", capacity)
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// GetCode returns the code of the first *Error in err's chain, or
// INTERNAL_ERROR.
func GetCode(err error) Code {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return CodeInternal
}

func GetKind(err error) Kind { return GetCode(err).Kind() }

func GetHTTPStatus(err error) int { return GetCode(err).HTTPStatus() }

func GetFields(err error) map[string]any {
	if e, ok := asError(err); ok {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool { return GetCode(err) == code }

func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

// IsValidation covers both malformed and oversized requests.
func IsValidation(err error) bool {
	c := GetCode(err)
	return c == CodeValidation || c == CodePayloadTooLarge
}

func IsOverloaded(err error) bool { return IsCode(err, CodeOverloaded) }

const maxFrames = 10

func captureStack(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	iter := runtime.CallersFrames(pcs[:n])

	frames := make([]Frame, 0, maxFrames)
	for len(frames) < maxFrames {
		f, more := iter.Next()
		if !strings.Contains(f.File, "runtime/") {
			frames = append(frames, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return frames
}

func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }
