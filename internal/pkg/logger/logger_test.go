package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{
		Level:       level,
		Format:      "json",
		Output:      &buf,
		ServiceName: "renderd-test",
	}), &buf
}

func TestLoggerOutput(t *testing.T) {
	log, buf := newBufferLogger("debug")

	log.Info("render finished", "format", "mp4")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}

	if entry["msg"] != "render finished" {
		t.Errorf("expected msg='render finished', got %v", entry["msg"])
	}
	if entry["format"] != "mp4" {
		t.Errorf("expected format='mp4', got %v", entry["format"])
	}
	if entry["service"] != "renderd-test" {
		t.Errorf("expected service='renderd-test', got %v", entry["service"])
	}
	ts, _ := entry["time"].(string)
	if !strings.HasSuffix(ts, "Z") {
		t.Errorf("expected UTC timestamp, got %q", ts)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "TEXT", Output: &buf})
	log.Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("expected text output, got %s", buf.String())
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(*Logger)
		shouldLog bool
	}{
		{"info level logs info", "info", func(l *Logger) { l.Info("test") }, true},
		{"info level does not log debug", "info", func(l *Logger) { l.Debug("test") }, false},
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug("test") }, true},
		{"error level does not log warn", "error", func(l *Logger) { l.Warn("test") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBufferLogger(tt.level)
			tt.logFn(log)

			if hasOutput := buf.Len() > 0; hasOutput != tt.shouldLog {
				t.Errorf("expected shouldLog=%v, got hasOutput=%v", tt.shouldLog, hasOutput)
			}
		})
	}
}

func TestAttributeHelpers(t *testing.T) {
	log, buf := newBufferLogger("info")

	log.WithRequestID("req-1").WithJobID("job-2").WithComponent("pool").With("slot", 3).Info("admitted")

	out := buf.String()
	for _, want := range []string{`"request_id":"req-1"`, `"job_id":"job-2"`, `"component":"pool"`, `"slot":3`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestFromContext(t *testing.T) {
	log, buf := newBufferLogger("info")

	ctx := ContextWithRequestID(context.Background(), "req-abc")
	ctx = ContextWithJobID(ctx, "job-xyz")

	log.FromContext(ctx).Info("test message")

	output := buf.String()
	if !strings.Contains(output, "req-abc") || !strings.Contains(output, "job-xyz") {
		t.Errorf("expected request and job ids, got: %s", output)
	}
	if RequestIDFromContext(ctx) != "req-abc" || JobIDFromContext(ctx) != "job-xyz" {
		t.Errorf("ids = %q, %q", RequestIDFromContext(ctx), JobIDFromContext(ctx))
	}
}

func TestContextMethodsAddIDs(t *testing.T) {
	log, buf := newBufferLogger("info")

	ctx := ContextWithJobID(ContextWithRequestID(context.Background(), "req-9"), "job-9")
	log.WithComponent("pool").InfoContext(ctx, "slot acquired")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["request_id"] != "req-9" || entry["job_id"] != "job-9" || entry["component"] != "pool" {
		t.Errorf("unexpected entry %v", entry)
	}

	buf.Reset()
	log.InfoContext(context.Background(), "plain")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("empty context must not add ids: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	OrDiscard(nil).Error("dropped")
	if OrDiscard(Discard()) == nil {
		t.Fatal("expected logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"warning", "WARN"},
		{" error ", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := parseLevel(tt.input); level.String() != tt.expected {
				t.Errorf("parseLevel(%q) = %s, expected %s", tt.input, level.String(), tt.expected)
			}
		})
	}
}
