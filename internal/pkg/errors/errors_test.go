package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		code   Code
		kind   Kind
		status int
	}{
		{CodeValidation, KindValidation, 400},
		{CodePayloadTooLarge, KindValidation, 413},
		{CodeNotFound, KindNotFound, 404},
		{CodeConflict, KindConflict, 409},
		{CodeOverloaded, KindOverloaded, 429},
		{CodeCancelled, KindCancelled, StatusClientClosedRequest},
		{CodeRenderFailed, KindRenderFailed, 502},
		{CodeUnavailable, KindUnavailable, 503},
		{CodeTimedOut, KindTimedOut, 504},
		{CodeInternal, KindInternal, 500},
		{Code("SOMETHING_ELSE"), KindInternal, 500},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.Kind(); got != tt.kind {
				t.Errorf("Kind() = %s, want %s", got, tt.kind)
			}
			if got := tt.code.HTTPStatus(); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}
}

// Callers decide on retries from the status class alone.
func TestRetryClasses(t *testing.T) {
	for _, c := range []Code{CodeValidation, CodePayloadTooLarge, CodeOverloaded} {
		if s := c.HTTPStatus(); s < 400 || s >= 500 {
			t.Errorf("%s: want 4xx, got %d", c, s)
		}
	}
	for _, c := range []Code{CodeRenderFailed, CodeTimedOut, CodeInternal} {
		if s := c.HTTPStatus(); s < 500 {
			t.Errorf("%s: want 5xx, got %d", c, s)
		}
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(CodeValidation, "invalid"), "[VALIDATION_ERROR] invalid"},
		{&Error{Code: CodeRenderFailed, Message: "ffmpeg exited with status 1", Op: "processor.render"},
			"processor.render: [RENDER_FAILED] ffmpeg exited with status 1"},
		{&Error{Message: "wrapper", Err: fmt.Errorf("disk full")}, "wrapper: disk full"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   Code
		fields map[string]any
	}{
		{"NotFound", NotFound("job", "job_123"), CodeNotFound, map[string]any{"resource": "job", "id": "job_123"}},
		{"ValidationField", ValidationField("overlays[0].font", "font is not installed"), CodeValidation, map[string]any{"field": "overlays[0].font"}},
		{"Validationf", Validationf("at most %d overlays", 32), CodeValidation, nil},
		{"Overloaded", Overloaded(12), CodeOverloaded, map[string]any{"capacity": 12}},
		{"Conflict", Conflict("artifact was already downloaded"), CodeConflict, nil},
		{"Newf", Newf(CodeTimedOut, "job exceeded %ds", 30), CodeTimedOut, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("code = %s, want %s", tt.err.Code, tt.code)
			}
			for k, v := range tt.fields {
				if tt.err.Fields[k] != v {
					t.Errorf("field %s = %v, want %v", k, tt.err.Fields[k], v)
				}
			}
			if len(tt.err.Stack) == 0 {
				t.Error("no stack captured")
			}
			if !strings.HasSuffix(tt.err.Stack[0].File, "errors_test.go") {
				t.Errorf("stack should start at the caller, got %s", tt.err.Stack[0].File)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "op", "msg") != nil || WrapWithCode(nil, CodeTimedOut, "op", "msg") != nil {
		t.Fatal("wrapping nil must give nil")
	}

	plain := fmt.Errorf("disk full")
	w := Wrap(plain, "workspace.create", "could not create workspace")
	if w.Code != CodeInternal || w.Op != "workspace.create" || errors.Unwrap(w) != plain {
		t.Errorf("unexpected wrap of plain error: %+v", w)
	}

	coded := ValidationField("output_format", "unsupported output format")
	w = Wrap(coded, "handler", "handler failed")
	if w.Code != CodeValidation || w.Fields["field"] != "output_format" {
		t.Errorf("code and fields must survive wrapping: %+v", w)
	}

	w = WrapWithCode(plain, CodeUnavailable, "jobs.submit", "job store unavailable")
	if w.Code != CodeUnavailable {
		t.Errorf("code = %s", w.Code)
	}
}

func TestChainHelpers(t *testing.T) {
	chained := fmt.Errorf("context: %w", ValidationField("input", "missing"))
	plain := fmt.Errorf("standard")

	if GetCode(chained) != CodeValidation || GetCode(plain) != CodeInternal {
		t.Error("GetCode did not follow the chain")
	}
	if GetKind(fmt.Errorf("x: %w", New(CodeCancelled, "client went away"))) != KindCancelled {
		t.Error("GetKind did not follow the chain")
	}
	if GetHTTPStatus(New(CodeOverloaded, "busy")) != 429 || GetHTTPStatus(plain) != 500 {
		t.Error("GetHTTPStatus mismatch")
	}
	if GetFields(chained)["field"] != "input" || GetFields(plain) != nil {
		t.Error("GetFields mismatch")
	}
	if !IsNotFound(fmt.Errorf("x: %w", NotFound("job", "j"))) {
		t.Error("IsNotFound mismatch")
	}
	if !IsOverloaded(Overloaded(1)) || IsOverloaded(plain) {
		t.Error("IsOverloaded mismatch")
	}
}

func TestIsValidation(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want bool
	}{
		{New(CodeValidation, "invalid"), true},
		{New(CodePayloadTooLarge, "too big"), true},
		{New(CodeNotFound, "missing"), false},
		{fmt.Errorf("plain"), false},
	} {
		if got := IsValidation(tt.err); got != tt.want {
			t.Errorf("IsValidation(%v) = %v", tt.err, got)
		}
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeTimedOut, "error 1")
	if !errors.Is(a, New(CodeTimedOut, "error 2")) {
		t.Error("same code should match")
	}
	if errors.Is(a, New(CodeRenderFailed, "error 3")) {
		t.Error("different code should not match")
	}

	var target *Error
	wrapped := fmt.Errorf("wrapped: %w", a)
	if !As(wrapped, &target) || target != a || !Is(wrapped, a) {
		t.Error("As/Is wrappers failed")
	}
}

func TestStackTrace(t *testing.T) {
	if s := New(CodeInternal, "test").StackTrace(); !strings.Contains(s, "errors_test.go:") {
		t.Errorf("stack trace lacks caller: %s", s)
	}
	if (&Error{}).StackTrace() != "" {
		t.Error("empty stack should format to empty string")
	}
}
