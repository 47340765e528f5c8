package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between rate-limited events.
const DefaultInterval = 3 * time.Second

// Options configures a stream.
type Options struct {
	// Action names the operation; it is set on the terminal event.
	Action string
	// Interval overrides DefaultInterval when positive.
	Interval time.Duration
	// Now overrides time.Now for tests.
	Now func() time.Time
	// Buffer is the channel capacity.
	Buffer int
}

// Emitter is handed to an operation to publish events. It is not safe for
// concurrent use; an operation emits from a single goroutine.
type Emitter struct {
	ctx      context.Context
	ch       chan<- Event
	interval time.Duration
	now      func() time.Time
	last     time.Time
	emitted  bool
}

// Send publishes ev immediately, bypassing the rate limit. It returns false
// once the consumer has gone away.
func (e *Emitter) Send(ev Event) bool {
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.ch <- ev:
		e.last = e.now()
		e.emitted = true
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Progress publishes ev only if it is the first event of the stream or at
// least one interval has passed since the previous event. Dropped events
// return true; false means the consumer has gone away.
func (e *Emitter) Progress(ev Event) bool {
	if e.ctx.Err() != nil {
		return false
	}
	if e.emitted && e.now().Sub(e.last) < e.interval {
		return true
	}
	return e.Send(ev)
}

// Due reports whether a rate-limited event would be published now.
func (e *Emitter) Due() bool {
	return !e.emitted || e.now().Sub(e.last) >= e.interval
}

// Remaining is how long until Due turns true; zero when it already is.
func (e *Emitter) Remaining() time.Duration {
	if !e.emitted {
		return 0
	}
	if d := e.interval - e.now().Sub(e.last); d > 0 {
		return d
	}
	return 0
}

// Context is cancelled when the consumer closes the stream.
func (e *Emitter) Context() context.Context {
	return e.ctx
}

// Stream is the consumer side of a running operation.
type Stream struct {
	events <-chan Event
	cancel context.CancelFunc
	once   sync.Once
}

// Events yields events until the terminal one, then the channel closes.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close cancels the operation and drains any pending events. It is safe to
// call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		for range s.events {
		}
	})
}

// Observe returns a stream that forwards every event of s after passing it
// to fn. Closing the returned stream closes s.
func (s *Stream) Observe(fn func(Event)) *Stream {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		for ev := range s.events {
			fn(ev)
			ch <- ev
		}
	}()
	return &Stream{events: ch, cancel: s.cancel}
}

// Collect drains the stream into a slice.
func (s *Stream) Collect() []Event {
	var out []Event
	for ev := range s.events {
		out = append(out, ev)
	}
	return out
}

// Func is a long-running operation. Its returned event (status forced to
// completed) or error becomes the terminal event.
type Func func(ctx context.Context, e *Emitter) (Event, error)

// Run starts fn in its own goroutine and returns the stream it feeds.
// Cancelling ctx or closing the stream cancels fn.
func Run(ctx context.Context, opts Options, fn Func) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, opts.Buffer)
	e := &Emitter{
		ctx:      ctx,
		ch:       ch,
		interval: opts.Interval,
		now:      opts.Now,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.now == nil {
		e.now = time.Now
	}

	go func() {
		defer close(ch)
		defer cancel()

		final, err := fn(ctx, e)
		if err != nil {
			final = Failure(opts.Action, err)
		} else {
			final.Status = StatusCompleted
			if final.Action == "" {
				final.Action = opts.Action
			}
		}
		e.Send(final)
	}()

	return &Stream{events: ch, cancel: cancel}
}

// Single returns a stream holding only ev. Used for synchronous outcomes
// that still need the streaming wire format.
func Single(ev Event) *Stream {
	ch := make(chan Event, 1)
	ch <- ev
	close(ch)
	return &Stream{events: ch, cancel: func() {}}
}
