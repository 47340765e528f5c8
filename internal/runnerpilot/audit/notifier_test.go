package audit_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/0xAungkon/RunnerPilot/common/trace"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/audit"
)

// fakeSender records notices for assertion.
type fakeSender struct {
	rooms   []string
	notices []string
	err     error
}

func (f *fakeSender) SendNotice(_ context.Context, room, msg string) error {
	f.rooms = append(f.rooms, room)
	f.notices = append(f.notices, msg)
	return f.err
}

func TestMatrixNotifier_SendsNotice(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")

	n.Notify(context.Background(), audit.Event{
		Kind:    audit.KindRunnerCreated,
		Target:  "runner-abc123",
		Message: "container started",
		TraceID: "op_abc123",
	})

	if len(sender.notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(sender.notices))
	}
	if sender.rooms[0] != "!room:example.com" {
		t.Errorf("room = %q", sender.rooms[0])
	}
	msg := sender.notices[0]
	for _, want := range []string{"runner.created", "runner-abc123", "container started", "op_abc123"} {
		if !strings.Contains(msg, want) {
			t.Errorf("notice missing %q: %q", want, msg)
		}
	}
}

func TestMatrixNotifier_TraceFromContext(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")

	ctx := trace.WithTraceID(context.Background(), "op_ctx")
	n.Notify(ctx, audit.Event{Kind: audit.KindSetupCompleted, Message: "setup completed"})

	if !strings.Contains(sender.notices[0], "op_ctx") {
		t.Errorf("trace ID from context missing: %q", sender.notices[0])
	}
}

func TestMatrixNotifier_NoopWhenEmptyRoom(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "")

	n.Notify(context.Background(), audit.Event{Kind: audit.KindRunnerDeleted, Message: "deleted"})

	if len(sender.notices) != 0 {
		t.Fatalf("expected no notices for empty room, got %d", len(sender.notices))
	}
}

func TestMatrixNotifier_SendErrorIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("homeserver down")}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")

	// Must not panic or propagate.
	n.Notify(context.Background(), audit.Event{Kind: audit.KindError, Message: "boom"})
	if len(sender.notices) != 1 {
		t.Fatalf("expected a send attempt, got %d", len(sender.notices))
	}
}

func TestMulti(t *testing.T) {
	a, b := &fakeSender{}, &fakeSender{}
	m := audit.Multi{
		audit.NewMatrixNotifier(a, "!a:x"),
		audit.Noop{},
		audit.NewMatrixNotifier(b, "!b:x"),
		audit.Log{},
	}
	m.Notify(context.Background(), audit.Event{Kind: audit.KindReleasePulled, Target: "v2.330.0", Message: "downloaded"})
	if len(a.notices) != 1 || len(b.notices) != 1 {
		t.Fatalf("expected fan-out to both senders, got %d and %d", len(a.notices), len(b.notices))
	}
}
