package instance

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/0xAungkon/RunnerPilot/common/redact"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
)

// ActionLogs is the progress action for log streaming.
const ActionLogs = "logs"

const maxLogLine = 1 << 20

// StreamLogs tails the container for id. Lines are batched into at most one
// log event per interval; a line that arrives when the interval has already
// elapsed goes out at once, and whatever is pending when the log ends is
// flushed with it. The registration token is scrubbed from every line. An unknown id fails
// before the stream starts.
func (o *Orchestrator) StreamLogs(ctx context.Context, id string, follow bool) (*progress.Stream, error) {
	ri, err := o.get(ctx, id)
	if err != nil {
		return nil, err
	}
	name, token := ri.RunnerName, ri.RegistrationToken
	opts := progress.Options{Action: ActionLogs, Interval: o.cfg.LogInterval}
	return progress.Run(ctx, opts, func(ctx context.Context, e *progress.Emitter) (progress.Event, error) {
		rc, err := o.rt.Logs(ctx, name, follow)
		if err != nil {
			return progress.Event{}, err
		}
		defer rc.Close()

		lines := make(chan string)
		errc := make(chan error, 1)
		go func() {
			sc := bufio.NewScanner(rc)
			sc.Buffer(make([]byte, 64*1024), maxLogLine)
			for sc.Scan() {
				select {
				case lines <- redact.String(sc.Text(), token):
				case <-ctx.Done():
					return
				}
			}
			errc <- sc.Err()
			close(lines)
		}()

		// due fires once the interval since the last log event has passed.
		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		var batch []string
		flush := func() bool {
			if timer != nil {
				timer.Stop()
			}
			due = nil
			if len(batch) == 0 {
				return true
			}
			ok := e.Send(progress.Event{
				Status: progress.StatusLog,
				Action: ActionLogs,
				ID:     name,
				Log:    strings.Join(batch, "\n"),
			})
			batch = batch[:0]
			return ok
		}

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					if !flush() {
						return progress.Event{}, ctx.Err()
					}
					if err := <-errc; err != nil {
						return progress.Event{}, err
					}
					return progress.Event{ID: name, Message: "log stream ended"}, nil
				}
				batch = append(batch, line)
				if e.Due() {
					if !flush() {
						return progress.Event{}, ctx.Err()
					}
				} else if due == nil {
					timer = time.NewTimer(e.Remaining())
					due = timer.C
				}
			case <-due:
				if !flush() {
					return progress.Event{}, ctx.Err()
				}
			case <-ctx.Done():
				return progress.Event{}, ctx.Err()
			}
		}
	}), nil
}
