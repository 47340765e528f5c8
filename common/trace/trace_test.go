package trace_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/0xAungkon/RunnerPilot/common/trace"
)

func TestGenerateID(t *testing.T) {
	re := regexp.MustCompile(`^op_[0-9a-f]{32}$`)
	a, b := trace.GenerateID(), trace.GenerateID()
	if !re.MatchString(a) {
		t.Fatalf("unexpected format: %q", a)
	}
	if a == b {
		t.Fatalf("expected unique IDs, got %q twice", a)
	}
}

func TestEnsure(t *testing.T) {
	ctx := trace.Ensure(context.Background())
	id := trace.FromContext(ctx)
	if id == "" {
		t.Fatal("Ensure did not attach an ID")
	}
	if got := trace.FromContext(trace.Ensure(ctx)); got != id {
		t.Fatalf("Ensure replaced existing ID: %q -> %q", id, got)
	}
}

func TestFromContext_Empty(t *testing.T) {
	if got := trace.FromContext(context.Background()); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
