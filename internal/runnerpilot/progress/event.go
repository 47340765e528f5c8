// Package progress implements the NDJSON event stream shared by every
// long-running operation: downloads, image pulls and builds, log tails and
// the setup pipeline.
//
// A stream is a sequence of Events ending in exactly one terminal event:
// "error", or "completed" for the operation's own action. Nothing follows
// the terminal event.
package progress

import (
	"errors"
	"math"
)

// Status discriminates events.
type Status string

const (
	StatusStarted   Status = "started"
	StatusProgress  Status = "progress"
	StatusSkipped   Status = "skipped"
	StatusLog       Status = "log"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Event is one line of a progress stream. Transfer fields are inlined for
// download progress.
type Event struct {
	Status  Status `json:"status"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`

	*Transfer

	// Image operations mirror the runtime's own status/progress text.
	ID       string `json:"id,omitempty"`
	Progress string `json:"progress,omitempty"`

	Log  string `json:"log,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Transfer reports cumulative download progress.
type Transfer struct {
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// NewTransfer computes the percentage for downloaded of total bytes. An
// unknown total (<= 0) yields 0%.
func NewTransfer(downloaded, total int64) *Transfer {
	t := &Transfer{Downloaded: downloaded, Total: total}
	if total > 0 {
		pct := float64(downloaded) * 100 / float64(total)
		t.Percentage = math.Min(100, math.Round(pct*100)/100)
	}
	return t
}

// Ends reports whether ev is the terminal event of a stream for action.
// Multi-step operations emit "completed" for each step under the step's own
// action, so only the operation's action terminates.
func (ev Event) Ends(action string) bool {
	if ev.Status == StatusError {
		return true
	}
	return ev.Status == StatusCompleted && ev.Action == action
}

// DataError is an error that carries a payload for the error event's data
// field.
type DataError interface {
	error
	EventData() any
}

// Failure builds the terminal error event for action.
func Failure(action string, err error) Event {
	ev := Event{Status: StatusError, Action: action, Message: err.Error()}
	var de DataError
	if errors.As(err, &de) {
		ev.Data = de.EventData()
	}
	return ev
}
