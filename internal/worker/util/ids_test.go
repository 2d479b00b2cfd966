package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a, b := NewID("job"), NewID("job")
	if a == b {
		t.Fatal("expected unique ids")
	}
	if !strings.HasPrefix(a, "job_") || len(a) != len("job_")+32 {
		t.Errorf("unexpected id shape %q", a)
	}
	if strings.ContainsAny(a, "/-.") {
		t.Errorf("id %q contains a separator", a)
	}
}
