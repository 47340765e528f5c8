// Package runtimetest provides an in-memory runtime.Runtime for tests.
package runtimetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
)

// Fake is an in-memory container engine. Error hooks, when set, are
// consulted before the operation takes effect.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*runtime.ContainerInfo
	specs      map[string]runtime.ContainerSpec
	images     map[string]bool
	seq        int

	// RunErr fails Run for matching specs.
	RunErr func(spec runtime.ContainerSpec) error
	// PingErr is returned by Ping, List and ImageExists.
	PingErr error
	// InspectErr overrides Inspect for every container.
	InspectErr error
	// StopErr and RemoveErr are returned by Stop and Remove.
	StopErr   error
	RemoveErr error

	// PullStream and BuildStream are the JSON message streams returned by
	// PullImage and BuildImage. Pulling or building marks the image present.
	PullStream  string
	BuildStream string
	// BuildContext receives the bytes passed to BuildImage.
	BuildContext []byte

	// LogText is returned by Logs unless LogReader is set.
	LogText string
	// LogReader, when set, supplies the reader Logs returns.
	LogReader func() io.ReadCloser

	// Calls records operation names in order, e.g. "run runner-a".
	Calls []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		containers: map[string]*runtime.ContainerInfo{},
		specs:      map[string]runtime.ContainerSpec{},
		images:     map[string]bool{},
	}
}

var _ runtime.Runtime = (*Fake)(nil)

func (f *Fake) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// AddImage marks ref as present.
func (f *Fake) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// SetState forces a container's state, creating it if needed.
func (f *Fake) SetState(name string, state runtime.ContainerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		f.seq++
		c = &runtime.ContainerInfo{ID: fmt.Sprintf("c%04d", f.seq), Name: name}
		f.containers[name] = c
	}
	c.State = state
}

// Spec returns the spec a container was run with.
func (f *Fake) Spec(name string) (runtime.ContainerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.specs[name]
	return s, ok
}

// Has reports whether a container exists.
func (f *Fake) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[name]
	return ok
}

func (f *Fake) Ping(context.Context) error { return f.PingErr }

func (f *Fake) Run(_ context.Context, spec runtime.ContainerSpec) (runtime.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("run %s", spec.Name)
	if f.RunErr != nil {
		if err := f.RunErr(spec); err != nil {
			return runtime.ContainerInfo{}, err
		}
	}
	if _, exists := f.containers[spec.Name]; exists {
		return runtime.ContainerInfo{}, fmt.Errorf("container name %q already in use", spec.Name)
	}
	f.seq++
	c := &runtime.ContainerInfo{
		ID:    fmt.Sprintf("c%04d", f.seq),
		Name:  spec.Name,
		Image: spec.Image,
		State: runtime.StateRunning,
	}
	f.containers[spec.Name] = c
	f.specs[spec.Name] = spec
	return *c, nil
}

func (f *Fake) lookup(name string) (*runtime.ContainerInfo, error) {
	c, ok := f.containers[name]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", name, runtime.ErrNotFound)
	}
	return c, nil
}

func (f *Fake) Inspect(_ context.Context, name string) (runtime.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InspectErr != nil {
		return runtime.ContainerInfo{}, f.InspectErr
	}
	c, err := f.lookup(name)
	if err != nil {
		return runtime.ContainerInfo{}, err
	}
	return *c, nil
}

func (f *Fake) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start %s", name)
	c, err := f.lookup(name)
	if err != nil {
		return err
	}
	c.State = runtime.StateRunning
	return nil
}

func (f *Fake) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", name)
	if f.StopErr != nil {
		return f.StopErr
	}
	c, err := f.lookup(name)
	if err != nil {
		return err
	}
	c.State = runtime.StateExited
	return nil
}

func (f *Fake) Restart(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("restart %s", name)
	c, err := f.lookup(name)
	if err != nil {
		return err
	}
	c.State = runtime.StateRunning
	return nil
}

func (f *Fake) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove %s", name)
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, err := f.lookup(name); err != nil {
		return err
	}
	delete(f.containers, name)
	delete(f.specs, name)
	return nil
}

func (f *Fake) Logs(_ context.Context, name string, _ bool) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(name); err != nil {
		return nil, err
	}
	if f.LogReader != nil {
		return f.LogReader(), nil
	}
	return io.NopCloser(strings.NewReader(f.LogText)), nil
}

func (f *Fake) List(context.Context) ([]runtime.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PingErr != nil {
		return nil, f.PingErr
	}
	out := make([]runtime.ContainerInfo, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PingErr != nil {
		return false, f.PingErr
	}
	return f.images[ref], nil
}

func (f *Fake) PullImage(_ context.Context, ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", ref)
	f.images[ref] = true
	return io.NopCloser(strings.NewReader(f.PullStream)), nil
}

func (f *Fake) BuildImage(_ context.Context, buildContext io.Reader, tag string) (io.ReadCloser, error) {
	data, err := io.ReadAll(buildContext)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("build %s", tag)
	f.BuildContext = data
	f.images[tag] = true
	return io.NopCloser(bytes.NewReader([]byte(f.BuildStream))), nil
}
