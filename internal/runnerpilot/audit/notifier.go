// Package audit posts lifecycle notifications for runner instances, release
// downloads and setup runs.
//
// When MATRIX_AUDIT_ROOM is configured, RunnerPilot posts a one-line notice
// per event to that room so operators can follow provisioning without
// tailing logs. Every notice carries the operation's trace ID.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xAungkon/RunnerPilot/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindRunnerCreated   Kind = "runner.created"
	KindRunnerCloned    Kind = "runner.cloned"
	KindRunnerStarted   Kind = "runner.started"
	KindRunnerStopped   Kind = "runner.stopped"
	KindRunnerRestarted Kind = "runner.restarted"
	KindRunnerDeleted   Kind = "runner.deleted"
	KindReleasePulled   Kind = "release.pulled"
	KindReleaseDeleted  Kind = "release.deleted"
	KindSetupCompleted  Kind = "setup.completed"
	KindError           Kind = "error"
)

// Event carries the data that the notifier formats and sends.
type Event struct {
	Kind Kind
	// Target is the runner name or release version affected.
	Target  string
	Message string
	// TraceID defaults to the trace ID in the context.
	TraceID string
	// Timestamp defaults to time.Now() when zero.
	Timestamp time.Time
}

// Notifier sends lifecycle notifications. Notify must not block the caller
// for long and never fails; send errors are logged.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sender is the subset of the Matrix client needed by MatrixNotifier.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// sendTimeout bounds a single notice delivery.
const sendTimeout = 5 * time.Second

// MatrixNotifier posts formatted notices to a Matrix room.
type MatrixNotifier struct {
	sender Sender
	roomID string
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	return &MatrixNotifier{sender: sender, roomID: roomID}
}

// Notify formats evt and posts it to the room.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	msg := Format(ctx, evt)
	if err := n.sender.SendNotice(ctx, n.roomID, msg); err != nil {
		slog.Warn("audit notifier: failed to send room notice",
			"room", n.roomID, "kind", evt.Kind, "err", err)
		return
	}
	slog.Debug("audit notifier: sent notice", "room", n.roomID, "kind", evt.Kind)
}

// Format renders evt as a single notice.
func Format(ctx context.Context, evt Event) string {
	tid := evt.TraceID
	if tid == "" {
		tid = trace.FromContext(ctx)
	}

	icon := kindIcon(evt.Kind)
	msg := fmt.Sprintf("%s [%s] %s", icon, evt.Kind, evt.Message)
	if evt.Target != "" {
		msg = fmt.Sprintf("%s [%s] %s: %s", icon, evt.Kind, evt.Target, evt.Message)
	}
	if tid != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, tid)
	}
	return msg
}

// Log is a Notifier that writes events to slog. It is used when no Matrix
// room is configured.
type Log struct{}

// Notify logs evt at info level, or warn for KindError.
func (Log) Notify(ctx context.Context, evt Event) {
	level := slog.LevelInfo
	if evt.Kind == KindError {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "audit: "+string(evt.Kind),
		"target", evt.Target, "message", evt.Message, "trace_id", trace.FromContext(ctx))
}

// Noop discards events.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(_ context.Context, _ Event) {}

// Multi fans an event out to several notifiers.
type Multi []Notifier

// Notify forwards evt to every notifier in order.
func (m Multi) Notify(ctx context.Context, evt Event) {
	for _, n := range m {
		n.Notify(ctx, evt)
	}
}

func kindIcon(k Kind) string {
	switch k {
	case KindRunnerCreated, KindRunnerCloned:
		return "🟢"
	case KindRunnerStarted:
		return "▶️"
	case KindRunnerStopped:
		return "⏹️"
	case KindRunnerRestarted:
		return "🔄"
	case KindRunnerDeleted, KindReleaseDeleted:
		return "🗑️"
	case KindReleasePulled:
		return "📦"
	case KindSetupCompleted:
		return "✅"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
