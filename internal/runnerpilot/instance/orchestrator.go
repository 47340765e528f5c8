package instance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moby/locker"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/audit"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/store"
)

const (
	// DefaultImage is the image built by setup.
	DefaultImage = runtime.DefaultRunnerImage

	// nameAttempts bounds retries when a generated name is already taken.
	nameAttempts = 3

	// MaxClones caps a single clone request.
	MaxClones = 50
)

// Config holds orchestrator settings.
type Config struct {
	// Image is the runner image every container is started from.
	Image string
	// Socket is the host container-engine socket mounted into each runner.
	// Empty disables the mount.
	Socket string
	// LogInterval is the batching window for log streaming.
	LogInterval time.Duration
}

// Orchestrator manages runner containers for persisted instances.
type Orchestrator struct {
	cfg      Config
	store    Store
	rt       runtime.Runtime
	notifier audit.Notifier
	locks    *locker.Locker
	newID    func() string
	newName  func(base string) (string, error)
}

// New returns an Orchestrator. A nil notifier disables notifications.
func New(cfg Config, s Store, rt runtime.Runtime, notifier audit.Notifier) *Orchestrator {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = progress.DefaultInterval
	}
	if notifier == nil {
		notifier = audit.Noop{}
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    s,
		rt:       rt,
		notifier: notifier,
		locks:    locker.New(),
		newID:    uuid.NewString,
		newName:  newName,
	}
}

// SetNameGenerator replaces the runner name generator. Used by tests to
// force collisions.
func (o *Orchestrator) SetNameGenerator(fn func(base string) (string, error)) {
	o.newName = fn
}

// lock serializes operations on one instance ID.
func (o *Orchestrator) lock(id string) func() {
	o.locks.Lock(id)
	return func() { _ = o.locks.Unlock(id) }
}

func (o *Orchestrator) get(ctx context.Context, id string) (*store.RunnerInstance, error) {
	ri, err := o.store.GetInstance(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return ri, err
}

func validate(spec Spec) error {
	if strings.TrimSpace(spec.RegistrationToken) == "" {
		return fmt.Errorf("%w: registration_token is required", ErrInvalidSpec)
	}
	u, err := url.Parse(spec.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: source_url must be an http(s) URL", ErrInvalidSpec)
	}
	return nil
}

// Create persists a new instance and then tries to launch its container.
// A launch failure does not fail Create: the record is kept with a null
// hostname and the returned view carries LaunchError.
func (o *Orchestrator) Create(ctx context.Context, spec Spec) (View, error) {
	if err := validate(spec); err != nil {
		return View{}, err
	}
	ri, err := o.persist(ctx, baseName(spec.Name, spec.SourceURL), spec)
	if err != nil {
		return View{}, err
	}
	v := o.launch(ctx, ri)
	if v.LaunchError == "" {
		o.notifier.Notify(ctx, audit.Event{Kind: audit.KindRunnerCreated, Target: ri.RunnerName})
	}
	return v, nil
}

// persist inserts a record under a fresh name derived from base, retrying
// a few times if the name is already taken.
func (o *Orchestrator) persist(ctx context.Context, base string, spec Spec) (*store.RunnerInstance, error) {
	var lastErr error
	for range nameAttempts {
		name, err := o.newName(base)
		if err != nil {
			return nil, fmt.Errorf("generate runner name: %w", err)
		}
		ri := &store.RunnerInstance{
			ID:                o.newID(),
			RunnerName:        name,
			SourceURL:         spec.SourceURL,
			RegistrationToken: spec.RegistrationToken,
		}
		if spec.Labels != "" {
			ri.Labels = sql.NullString{String: spec.Labels, Valid: true}
		}
		err = o.store.CreateInstance(ctx, ri)
		if err == nil {
			return ri, nil
		}
		if !errors.Is(err, store.ErrDuplicateName) {
			return nil, err
		}
		slog.Debug("instance: runner name taken, retrying", "name", name)
		lastErr = err
	}
	return nil, lastErr
}

// launch runs the container for ri and records its hostname. It never
// fails; errors end up in the view.
func (o *Orchestrator) launch(ctx context.Context, ri *store.RunnerInstance) View {
	info, err := o.rt.Run(ctx, o.containerSpec(ri))
	if err != nil {
		slog.Warn("instance: container launch failed", "runner", ri.RunnerName, "err", err)
		o.notifier.Notify(ctx, audit.Event{
			Kind:    audit.KindError,
			Target:  ri.RunnerName,
			Message: "launch failed: " + err.Error(),
		})
		v := newView(ri, o.status(ctx, ri.RunnerName))
		v.LaunchError = err.Error()
		return v
	}
	if err := o.store.SetHostname(ctx, ri.ID, info.ID); err != nil {
		slog.Warn("instance: failed to record hostname", "runner", ri.RunnerName, "err", err)
	} else {
		ri.Hostname = sql.NullString{String: info.ID, Valid: true}
	}
	slog.Info("instance: container launched", "runner", ri.RunnerName, "container", info.ID)
	return newView(ri, o.status(ctx, ri.RunnerName))
}

func (o *Orchestrator) containerSpec(ri *store.RunnerInstance) runtime.ContainerSpec {
	env := map[string]string{
		"RUNNER_URL":   ri.SourceURL,
		"RUNNER_TOKEN": ri.RegistrationToken,
		"RUNNER_NAME":  ri.RunnerName,
	}
	if ri.Labels.Valid && ri.Labels.String != "" {
		env["RUNNER_LABELS"] = ri.Labels.String
	}
	spec := runtime.ContainerSpec{
		Name:          ri.RunnerName,
		Image:         o.cfg.Image,
		Env:           env,
		Labels:        map[string]string{runtime.LabelInstanceID: ri.ID},
		RestartPolicy: runtime.DefaultRestartPolicy,
	}
	if o.cfg.Socket != "" {
		spec.Mounts = []runtime.Mount{{Source: o.cfg.Socket, Target: runtime.DefaultSocket}}
	}
	return spec
}

// Clone creates count copies of an instance's configuration, optionally
// with a different registration token. Failures are reported per clone.
func (o *Orchestrator) Clone(ctx context.Context, id string, count int, tokenOverride string) (CloneResult, error) {
	if count < 1 || count > MaxClones {
		return CloneResult{}, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidSpec, MaxClones)
	}
	src, err := o.get(ctx, id)
	if err != nil {
		return CloneResult{}, err
	}

	spec := Spec{
		SourceURL:         src.SourceURL,
		RegistrationToken: src.RegistrationToken,
		Labels:            src.Labels.String,
	}
	if tokenOverride != "" {
		spec.RegistrationToken = tokenOverride
	}

	res := CloneResult{Created: []View{}, Failed: []CloneFailure{}}
	for range count {
		ri, err := o.persist(ctx, cloneBase(src.RunnerName), spec)
		if err != nil {
			res.Failed = append(res.Failed, CloneFailure{Error: err.Error()})
			continue
		}
		v := o.launch(ctx, ri)
		if v.LaunchError != "" {
			res.Failed = append(res.Failed, CloneFailure{RunnerName: ri.RunnerName, Error: v.LaunchError})
			continue
		}
		res.Created = append(res.Created, v)
	}

	slog.Info("instance: clone finished",
		"source", src.RunnerName, "created", len(res.Created), "failed", len(res.Failed))
	if len(res.Created) > 0 {
		o.notifier.Notify(ctx, audit.Event{
			Kind:    audit.KindRunnerCloned,
			Target:  src.RunnerName,
			Message: fmt.Sprintf("%d created, %d failed", len(res.Created), len(res.Failed)),
		})
	}
	return res, nil
}

// Start brings the container for id up. A missing container is recreated
// from the persisted record.
func (o *Orchestrator) Start(ctx context.Context, id string) (View, error) {
	defer o.lock(id)()
	return o.ensureRunning(ctx, id, false)
}

// Restart restarts the container for id, recreating it if missing.
func (o *Orchestrator) Restart(ctx context.Context, id string) (View, error) {
	defer o.lock(id)()
	return o.ensureRunning(ctx, id, true)
}

func (o *Orchestrator) ensureRunning(ctx context.Context, id string, restart bool) (View, error) {
	ri, err := o.get(ctx, id)
	if err != nil {
		return View{}, err
	}

	kind := audit.KindRunnerStarted
	if restart {
		kind = audit.KindRunnerRestarted
	}

	info, err := o.rt.Inspect(ctx, ri.RunnerName)
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		info, err = o.rt.Run(ctx, o.containerSpec(ri))
		if err != nil {
			return View{}, fmt.Errorf("run container %s: %w", ri.RunnerName, err)
		}
	case err != nil:
		return View{}, err
	case restart:
		if err := o.rt.Restart(ctx, ri.RunnerName); err != nil {
			return View{}, err
		}
	case !info.Running():
		if err := o.rt.Start(ctx, ri.RunnerName); err != nil {
			return View{}, err
		}
	}

	if err := o.store.SetHostname(ctx, ri.ID, info.ID); err != nil {
		return View{}, err
	}
	ri.Hostname = sql.NullString{String: info.ID, Valid: true}

	o.notifier.Notify(ctx, audit.Event{Kind: kind, Target: ri.RunnerName})
	return newView(ri, o.status(ctx, ri.RunnerName)), nil
}

// Stop stops and removes the container for id. The record is kept, so the
// instance reports inactive until started again.
func (o *Orchestrator) Stop(ctx context.Context, id string) (View, error) {
	defer o.lock(id)()

	ri, err := o.get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := o.teardown(ctx, ri.RunnerName); err != nil {
		return View{}, err
	}
	if err := o.store.SetHostname(ctx, ri.ID, ""); err != nil {
		return View{}, err
	}
	ri.Hostname = sql.NullString{}

	o.notifier.Notify(ctx, audit.Event{Kind: audit.KindRunnerStopped, Target: ri.RunnerName})
	return newView(ri, o.status(ctx, ri.RunnerName)), nil
}

// teardown stops and removes a container. A missing container is not an
// error.
func (o *Orchestrator) teardown(ctx context.Context, name string) error {
	if err := o.rt.Stop(ctx, name); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	if err := o.rt.Remove(ctx, name); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// Delete removes the container and the record. The record is deleted even
// when the container cannot be removed.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	defer o.lock(id)()

	ri, err := o.get(ctx, id)
	if err != nil {
		return err
	}
	if err := o.teardown(ctx, ri.RunnerName); err != nil {
		slog.Warn("instance: container teardown failed, deleting record anyway",
			"runner", ri.RunnerName, "err", err)
	}
	if err := o.store.DeleteInstance(ctx, ri.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return err
	}

	slog.Info("instance: deleted", "runner", ri.RunnerName)
	o.notifier.Notify(ctx, audit.Event{Kind: audit.KindRunnerDeleted, Target: ri.RunnerName})
	return nil
}

// status queries the runtime for the container named name.
func (o *Orchestrator) status(ctx context.Context, name string) Status {
	info, err := o.rt.Inspect(ctx, name)
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		return StatusInactive
	case err != nil:
		slog.Debug("instance: status query failed", "runner", name, "err", err)
		return StatusError
	case info.Running():
		return StatusActive
	default:
		return StatusError
	}
}

// Status returns the live status of id.
func (o *Orchestrator) Status(ctx context.Context, id string) (Status, error) {
	ri, err := o.get(ctx, id)
	if err != nil {
		return "", err
	}
	return o.status(ctx, ri.RunnerName), nil
}

// Get returns one instance with its live status.
func (o *Orchestrator) Get(ctx context.Context, id string) (View, error) {
	ri, err := o.get(ctx, id)
	if err != nil {
		return View{}, err
	}
	return newView(ri, o.status(ctx, ri.RunnerName)), nil
}

// List returns every instance with its live status, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]View, error) {
	rows, err := o.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for _, ri := range rows {
		out = append(out, newView(ri, o.status(ctx, ri.RunnerName)))
	}
	return out, nil
}
