package instance_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/audit"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/instance"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime/runtimetest"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/store"
)

const token = "AABBCCDDEEFF"

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Notify(_ context.Context, evt audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) kinds() []audit.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	orch  *instance.Orchestrator
	rt    *runtimetest.Fake
	store *store.Store
	audit *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "runnerpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rt := runtimetest.New()
	rec := &recorder{}
	orch := instance.New(instance.Config{
		Image:       "runnerpilot/runner:test",
		Socket:      "/var/run/docker.sock",
		LogInterval: time.Hour,
	}, s, rt, rec)
	return &fixture{orch: orch, rt: rt, store: s, audit: rec}
}

func spec() instance.Spec {
	return instance.Spec{
		SourceURL:         "https://github.com/acme/widgets",
		RegistrationToken: token,
		Labels:            "linux,x64",
	}
}

func TestCreate_LaunchesContainer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	assert.Regexp(t, `^widgets-[a-z0-9]{6}$`, v.RunnerName)
	assert.Equal(t, instance.StatusActive, v.Status)
	require.NotNil(t, v.Hostname)
	assert.Empty(t, v.LaunchError)
	assert.Equal(t, "****EEFF", v.RegistrationToken)

	cs, ok := f.rt.Spec(v.RunnerName)
	require.True(t, ok)
	assert.Equal(t, "runnerpilot/runner:test", cs.Image)
	assert.Equal(t, "https://github.com/acme/widgets", cs.Env["RUNNER_URL"])
	assert.Equal(t, token, cs.Env["RUNNER_TOKEN"])
	assert.Equal(t, "linux,x64", cs.Env["RUNNER_LABELS"])
	assert.Equal(t, v.ID, cs.Labels[runtime.LabelInstanceID])
	require.Len(t, cs.Mounts, 1)
	assert.Equal(t, "/var/run/docker.sock", cs.Mounts[0].Source)

	ri, err := f.store.GetInstance(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, *v.Hostname, ri.Hostname.String)
	assert.Equal(t, []audit.Kind{audit.KindRunnerCreated}, f.audit.kinds())
}

func TestCreate_RuntimeFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rt.RunErr = func(runtime.ContainerSpec) error { return runtime.ErrUnavailable }

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	assert.Nil(t, v.Hostname)
	assert.NotEmpty(t, v.LaunchError)
	assert.Equal(t, instance.StatusInactive, v.Status)

	ri, err := f.store.GetInstance(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, ri.Hostname.Valid)
	assert.Equal(t, []audit.Kind{audit.KindError}, f.audit.kinds())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	for name, s := range map[string]instance.Spec{
		"no token":   {SourceURL: "https://github.com/acme"},
		"bad url":    {SourceURL: "github.com/acme", RegistrationToken: token},
		"ftp scheme": {SourceURL: "ftp://github.com/acme", RegistrationToken: token},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.orch.Create(context.Background(), s)
			assert.ErrorIs(t, err, instance.ErrInvalidSpec)
		})
	}
}

func TestCreate_RetriesTakenName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	names := []string{"runner-aaaaaa", "runner-aaaaaa", "runner-bbbbbb"}
	var i int
	f.orch.SetNameGenerator(func(string) (string, error) {
		n := names[i]
		i++
		return n, nil
	})

	first, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)
	second, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	assert.Equal(t, "runner-aaaaaa", first.RunnerName)
	assert.Equal(t, "runner-bbbbbb", second.RunnerName)
}

func TestCreate_GivesUpAfterRepeatedCollisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orch.SetNameGenerator(func(string) (string, error) { return "runner-same00", nil })

	_, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)
	_, err = f.orch.Create(ctx, spec())
	assert.ErrorIs(t, err, store.ErrDuplicateName)
}

func TestClone_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	src, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	var runs int
	f.rt.RunErr = func(runtime.ContainerSpec) error {
		runs++
		if runs%2 == 0 {
			return errors.New("engine hiccup")
		}
		return nil
	}

	res, err := f.orch.Clone(ctx, src.ID, 4, "")
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)
	assert.Len(t, res.Failed, 2)

	for _, c := range res.Created {
		assert.Regexp(t, "^"+src.RunnerName+`-clone-[a-z0-9]{6}$`, c.RunnerName)
		cs, ok := f.rt.Spec(c.RunnerName)
		require.True(t, ok)
		assert.Equal(t, token, cs.Env["RUNNER_TOKEN"])
		assert.Equal(t, "linux,x64", cs.Env["RUNNER_LABELS"])
	}
	for _, fl := range res.Failed {
		assert.Contains(t, fl.Error, "engine hiccup")
	}
}

func TestClone_TokenOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	src, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	res, err := f.orch.Clone(ctx, src.ID, 1, "NEWTOKEN9999")
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	cs, _ := f.rt.Spec(res.Created[0].RunnerName)
	assert.Equal(t, "NEWTOKEN9999", cs.Env["RUNNER_TOKEN"])
}

func TestClone_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.Clone(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, instance.ErrInstanceNotFound)

	_, err = f.orch.Clone(ctx, "missing", 0, "")
	assert.ErrorIs(t, err, instance.ErrInvalidSpec)
}

func TestStatusMapping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	cases := []struct {
		state runtime.ContainerState
		want  instance.Status
	}{
		{runtime.StateRunning, instance.StatusActive},
		{runtime.StateExited, instance.StatusError},
		{runtime.StatePaused, instance.StatusError},
		{runtime.StateRestarting, instance.StatusError},
	}
	for _, tc := range cases {
		f.rt.SetState(v.RunnerName, tc.state)
		got, err := f.orch.Status(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "state %s", tc.state)
	}

	require.NoError(t, f.rt.Remove(ctx, v.RunnerName))
	got, err := f.orch.Status(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusInactive, got)

	f.rt.InspectErr = runtime.ErrUnavailable
	got, err = f.orch.Status(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusError, got)

	_, err = f.orch.Status(ctx, "missing")
	assert.ErrorIs(t, err, instance.ErrInstanceNotFound)
}

func TestStopThenStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	stopped, err := f.orch.Stop(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, stopped.Hostname)
	assert.Equal(t, instance.StatusInactive, stopped.Status)
	assert.False(t, f.rt.Has(v.RunnerName))

	started, err := f.orch.Start(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, started.Hostname)
	assert.Equal(t, instance.StatusActive, started.Status)

	ri, err := f.store.GetInstance(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, *started.Hostname, ri.Hostname.String)
}

func TestStart_ExistingStoppedContainer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)
	f.rt.SetState(v.RunnerName, runtime.StateExited)

	started, err := f.orch.Start(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusActive, started.Status)
	assert.Contains(t, f.rt.Calls, "start "+v.RunnerName)
}

func TestStart_AfterFailedLaunch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rt.RunErr = func(runtime.ContainerSpec) error { return runtime.ErrUnavailable }

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)
	require.Nil(t, v.Hostname)

	f.rt.RunErr = nil
	started, err := f.orch.Start(ctx, v.ID)
	require.NoError(t, err)
	assert.NotNil(t, started.Hostname)
	assert.Equal(t, instance.StatusActive, started.Status)
}

func TestRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	_, err = f.orch.Restart(ctx, v.ID)
	require.NoError(t, err)
	assert.Contains(t, f.rt.Calls, "restart "+v.RunnerName)

	_, err = f.orch.Restart(ctx, "missing")
	assert.ErrorIs(t, err, instance.ErrInstanceNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes container and record", func(t *testing.T) {
		f := newFixture(t)
		v, err := f.orch.Create(ctx, spec())
		require.NoError(t, err)

		require.NoError(t, f.orch.Delete(ctx, v.ID))
		assert.False(t, f.rt.Has(v.RunnerName))
		_, err = f.store.GetInstance(ctx, v.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("missing container is not an error", func(t *testing.T) {
		f := newFixture(t)
		f.rt.RunErr = func(runtime.ContainerSpec) error { return runtime.ErrUnavailable }
		v, err := f.orch.Create(ctx, spec())
		require.NoError(t, err)

		require.NoError(t, f.orch.Delete(ctx, v.ID))
		_, err = f.store.GetInstance(ctx, v.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("record removed even when teardown fails", func(t *testing.T) {
		f := newFixture(t)
		v, err := f.orch.Create(ctx, spec())
		require.NoError(t, err)
		f.rt.RemoveErr = runtime.ErrUnavailable

		require.NoError(t, f.orch.Delete(ctx, v.ID))
		_, err = f.store.GetInstance(ctx, v.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.orch.Delete(ctx, "missing"), instance.ErrInstanceNotFound)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)
	f.rt.RunErr = func(runtime.ContainerSpec) error { return runtime.ErrUnavailable }
	b, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	views, err := f.orch.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byID := map[string]instance.View{}
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.Equal(t, instance.StatusActive, byID[a.ID].Status)
	assert.Equal(t, instance.StatusInactive, byID[b.ID].Status)
}

func TestConcurrentOperationsSameInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.orch.Stop(ctx, v.ID)
			} else {
				_, _ = f.orch.Start(ctx, v.ID)
			}
		}()
	}
	wg.Wait()

	got, err := f.orch.Status(ctx, v.ID)
	require.NoError(t, err)
	assert.Contains(t, []instance.Status{instance.StatusActive, instance.StatusInactive}, got)
}

func TestStreamLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)
	f.rt.LogText = "first\nsecond token=" + token + "\nthird\n"

	s, err := f.orch.StreamLogs(ctx, v.ID, false)
	require.NoError(t, err)
	events := s.Collect()

	require.Len(t, events, 3)
	assert.Equal(t, progress.StatusLog, events[0].Status)
	assert.Equal(t, "first", events[0].Log)
	assert.Equal(t, progress.StatusLog, events[1].Status)
	assert.Equal(t, "second token=[REDACTED]\nthird", events[1].Log)
	assert.Equal(t, progress.StatusCompleted, events[2].Status)
	assert.Equal(t, instance.ActionLogs, events[2].Action)
	for _, ev := range events {
		assert.NotContains(t, ev.Log, token)
	}
}

func TestStreamLogs_SpacesEventsByInterval(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "runnerpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	const interval = 300 * time.Millisecond
	rt := runtimetest.New()
	orch := instance.New(instance.Config{Image: "runnerpilot/runner:test", LogInterval: interval}, s, rt, nil)
	v, err := orch.Create(ctx, spec())
	require.NoError(t, err)

	pr, pw := io.Pipe()
	rt.LogReader = func() io.ReadCloser { return pr }
	go func() {
		time.Sleep(250 * time.Millisecond)
		_, _ = io.WriteString(pw, "first\n")
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(pw, "second\n")
		time.Sleep(2 * interval)
		_ = pw.Close()
	}()

	stream, err := orch.StreamLogs(ctx, v.ID, true)
	require.NoError(t, err)
	defer stream.Close()

	var (
		logs []string
		at   []time.Time
	)
	for ev := range stream.Events() {
		if ev.Status == progress.StatusLog {
			logs = append(logs, ev.Log)
			at = append(at, time.Now())
		}
	}

	require.Equal(t, []string{"first", "second"}, logs)
	assert.GreaterOrEqual(t, at[1].Sub(at[0]), interval-10*time.Millisecond)
}

func TestStreamLogs_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.StreamLogs(ctx, "missing", false)
	assert.ErrorIs(t, err, instance.ErrInstanceNotFound)

	f.rt.RunErr = func(runtime.ContainerSpec) error { return runtime.ErrUnavailable }
	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)

	s, err := f.orch.StreamLogs(ctx, v.ID, false)
	require.NoError(t, err)
	events := s.Collect()
	require.Len(t, events, 1)
	assert.Equal(t, progress.StatusError, events[0].Status)
}

func TestStreamLogs_ManyLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.orch.Create(ctx, spec())
	require.NoError(t, err)
	var b strings.Builder
	for i := range 100 {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	f.rt.LogText = b.String()

	s, err := f.orch.StreamLogs(ctx, v.ID, false)
	require.NoError(t, err)
	events := s.Collect()

	var lines int
	for _, ev := range events {
		if ev.Status == progress.StatusLog {
			lines += len(strings.Split(ev.Log, "\n"))
		}
	}
	assert.Equal(t, 100, lines)
	assert.Equal(t, progress.StatusCompleted, events[len(events)-1].Status)
}
