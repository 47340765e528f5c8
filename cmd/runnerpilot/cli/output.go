package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/mattn/go-isatty"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
)

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// rawOutput reports whether results should be printed as JSON.
func rawOutput() bool {
	return jsonOut || !isTerminal(os.Stdout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errStreamFailed is returned when a stream ends with an error event. The
// event itself has already been printed.
var errStreamFailed = errors.New("operation failed")

// printStream renders s until its terminal event. Raw mode writes NDJSON.
func printStream(w io.Writer, s *progress.Stream, raw bool) error {
	defer s.Close()

	failed := false
	enc := json.NewEncoder(w)
	for ev := range s.Events() {
		if ev.Status == progress.StatusError {
			failed = true
		}
		if raw {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		if line := formatEvent(ev); line != "" {
			fmt.Fprintln(w, line)
		}
	}
	if failed {
		return errStreamFailed
	}
	return nil
}

// formatEvent renders one event for humans.
func formatEvent(ev progress.Event) string {
	if ev.Status == progress.StatusLog {
		return ev.Log
	}

	var b strings.Builder
	if ev.Action != "" {
		fmt.Fprintf(&b, "[%s] ", ev.Action)
	}
	b.WriteString(string(ev.Status))
	if ev.Message != "" {
		b.WriteString(": ")
		b.WriteString(ev.Message)
	}
	if ev.Transfer != nil {
		fmt.Fprintf(&b, " (%s", units.HumanSize(float64(ev.Downloaded)))
		if ev.Total > 0 {
			fmt.Fprintf(&b, " of %s, %.2f%%", units.HumanSize(float64(ev.Total)), ev.Percentage)
		}
		b.WriteString(")")
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, " %s", ev.ID)
	}
	if ev.Progress != "" {
		fmt.Fprintf(&b, " %s", ev.Progress)
	}
	return b.String()
}
