package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
)

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		name string
		ev   progress.Event
		want string
	}{
		{
			name: "log line verbatim",
			ev:   progress.Event{Status: progress.StatusLog, Log: "Listening for Jobs"},
			want: "Listening for Jobs",
		},
		{
			name: "message",
			ev:   progress.Event{Status: progress.StatusStarted, Action: "building_image", Message: "building example/runner"},
			want: "[building_image] started: building example/runner",
		},
		{
			name: "transfer with total",
			ev: progress.Event{
				Status:   progress.StatusProgress,
				Action:   "download",
				Transfer: progress.NewTransfer(1000, 4000),
			},
			want: "[download] progress (1kB of 4kB, 25.00%)",
		},
		{
			name: "transfer without total",
			ev: progress.Event{
				Status:   progress.StatusProgress,
				Action:   "download",
				Transfer: progress.NewTransfer(2000, 0),
			},
			want: "[download] progress (2kB)",
		},
		{
			name: "image layer",
			ev:   progress.Event{Status: progress.StatusProgress, Action: "acquiring_base_image", Message: "Downloading", ID: "abc123", Progress: "[==>  ]"},
			want: "[acquiring_base_image] progress: Downloading abc123 [==>  ]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatEvent(tc.ev))
		})
	}
}

func TestPrintStream(t *testing.T) {
	run := func(fail bool) *progress.Stream {
		return progress.Run(context.Background(), progress.Options{Action: "download", Buffer: 4},
			func(ctx context.Context, e *progress.Emitter) (progress.Event, error) {
				e.Send(progress.Event{Status: progress.StatusStarted, Action: "download"})
				if fail {
					return progress.Event{}, errors.New("digest mismatch")
				}
				return progress.Event{Message: "done"}, nil
			})
	}

	t.Run("human", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printStream(&buf, run(false), false))
		assert.Equal(t, "[download] started\n[download] completed: done\n", buf.String())
	})

	t.Run("raw", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printStream(&buf, run(false), true))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		var ev progress.Event
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
		assert.Equal(t, progress.StatusCompleted, ev.Status)
	})

	t.Run("error event fails", func(t *testing.T) {
		var buf bytes.Buffer
		err := printStream(&buf, run(true), false)
		assert.ErrorIs(t, err, errStreamFailed)
		assert.Contains(t, buf.String(), "[download] error: digest mismatch")
	})
}
