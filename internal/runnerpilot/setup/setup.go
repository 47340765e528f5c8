// Package setup runs the provisioning pipeline: prerequisite checks, runner
// archive download, base image pull and runner image build, reported as a
// single progress stream.
//
// States advance in a fixed order:
//
//	checking_prerequisites → acquiring_artifact → acquiring_base_image → building_image → complete
//
// Only a mandatory prerequisite failure leads to failed before any
// acquisition starts; later errors end the stream with an error event.
// Each state emits its own started/skipped/progress/completed events with
// the state name as the action. The final event uses action "setup".
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xAungkon/RunnerPilot/common/trace"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/artifact"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/audit"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/observability"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/prereq"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/release"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
)

// Action is the action of the pipeline's terminal event.
const Action = "setup"

// State is a pipeline stage.
type State string

const (
	StateCheckingPrerequisites State = "checking_prerequisites"
	StateAcquiringArtifact     State = "acquiring_artifact"
	StateAcquiringBaseImage    State = "acquiring_base_image"
	StateBuildingImage         State = "building_image"
	StateComplete              State = "complete"
	StateFailed                State = "failed"
)

// ErrNoRelease is returned when the feed has no usable release.
var ErrNoRelease = errors.New("setup: no runner release available")

// PrerequisiteError ends the pipeline when a mandatory check fails. The
// report travels in the error event's data field.
type PrerequisiteError struct {
	Report prereq.Report
}

func (e *PrerequisiteError) Error() string {
	return "prerequisites not met: " + e.Report.Summary()
}

type failedData struct {
	State State `json:"state"`
	prereq.Report
}

// EventData implements progress.DataError. The payload carries the failed
// state and the full report.
func (e *PrerequisiteError) EventData() any {
	return failedData{State: StateFailed, Report: e.Report}
}

// Prerequisites runs the host checks.
type Prerequisites interface {
	Check(ctx context.Context) prereq.Report
}

// Releases supplies the release to install.
type Releases interface {
	Latest(ctx context.Context) (*release.Release, error)
	Asset(r release.Release) (release.Asset, error)
}

// Artifacts downloads and verifies runner archives.
type Artifacts interface {
	Satisfied(ctx context.Context, t artifact.Task) (string, bool)
	Fetch(ctx context.Context, e *progress.Emitter, action string, t artifact.Task) (*progress.Transfer, error)
	Destination(t artifact.Task) string
}

// Flags records the setup-complete flag.
type Flags interface {
	SetBool(ctx context.Context, key string, b bool) error
}

// Config holds pipeline settings.
type Config struct {
	// Image is the tag of the runner image to build.
	Image string
	// BaseImage is pulled and used as the build's FROM.
	BaseImage string
	// Interval spaces progress events.
	Interval time.Duration
}

// Pipeline wires the components setup drives.
type Pipeline struct {
	cfg       Config
	prereqs   Prerequisites
	releases  Releases
	artifacts Artifacts
	rt        runtime.Runtime
	flags     Flags
	notifier  audit.Notifier
	now       func() time.Time
}

// New returns a Pipeline. A nil notifier disables notifications.
func New(cfg Config, prereqs Prerequisites, releases Releases, artifacts Artifacts,
	rt runtime.Runtime, flags Flags, notifier audit.Notifier) *Pipeline {
	if cfg.Image == "" {
		cfg.Image = runtime.DefaultRunnerImage
	}
	if cfg.BaseImage == "" {
		cfg.BaseImage = runtime.DefaultBaseImage
	}
	if notifier == nil {
		notifier = audit.Noop{}
	}
	return &Pipeline{
		cfg:       cfg,
		prereqs:   prereqs,
		releases:  releases,
		artifacts: artifacts,
		rt:        rt,
		flags:     flags,
		notifier:  notifier,
		now:       time.Now,
	}
}

// SetClock overrides the clock used for rate limiting.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Run starts the pipeline. Closing the stream cancels it.
func (p *Pipeline) Run(ctx context.Context) *progress.Stream {
	ctx = trace.Ensure(ctx)
	opts := progress.Options{Action: Action, Interval: p.cfg.Interval, Now: p.now}
	return progress.Run(ctx, opts, p.run)
}

func (p *Pipeline) run(ctx context.Context, e *progress.Emitter) (progress.Event, error) {
	log := observability.WithTrace(ctx)
	state := StateCheckingPrerequisites
	fail := func(err error) (progress.Event, error) {
		log.Warn("setup: failed", "state", state, "err", err)
		p.notifier.Notify(ctx, audit.Event{Kind: audit.KindError, Target: string(state), Message: err.Error()})
		return progress.Event{}, fmt.Errorf("%s: %w", state, err)
	}

	if err := p.checkPrerequisites(ctx, e); err != nil {
		return fail(err)
	}

	state = StateAcquiringArtifact
	archive, version, err := p.acquireArtifact(ctx, e)
	if err != nil {
		return fail(err)
	}

	state = StateAcquiringBaseImage
	if err := p.acquireBaseImage(ctx, e); err != nil {
		return fail(err)
	}

	state = StateBuildingImage
	if err := p.buildImage(ctx, e, archive, version); err != nil {
		return fail(err)
	}

	state = StateComplete
	if err := p.flags.SetBool(ctx, meta.KeyIsSetup, true); err != nil {
		return fail(fmt.Errorf("record setup flag: %w", err))
	}
	log.Info("setup: complete", "version", version, "image", p.cfg.Image)
	p.notifier.Notify(ctx, audit.Event{
		Kind:    audit.KindSetupCompleted,
		Target:  p.cfg.Image,
		Message: "runner " + version,
	})
	return progress.Event{
		Action:  Action,
		Message: "system setup completed successfully",
		Data:    map[string]string{"state": string(StateComplete), "version": version, "image": p.cfg.Image},
	}, nil
}

func started(state State, msg string) progress.Event {
	return progress.Event{Status: progress.StatusStarted, Action: string(state), Message: msg}
}

func completed(state State, msg string) progress.Event {
	return progress.Event{Status: progress.StatusCompleted, Action: string(state), Message: msg}
}

func skipped(state State, msg string) progress.Event {
	return progress.Event{Status: progress.StatusSkipped, Action: string(state), Message: msg}
}

func (p *Pipeline) checkPrerequisites(ctx context.Context, e *progress.Emitter) error {
	const state = StateCheckingPrerequisites
	e.Send(started(state, "checking prerequisites"))

	report := p.prereqs.Check(ctx)
	if !report.Status {
		return &PrerequisiteError{Report: report}
	}
	ev := completed(state, "all prerequisites met")
	ev.Data = report
	e.Send(ev)
	return nil
}

// acquireArtifact returns the local archive path for the latest release.
func (p *Pipeline) acquireArtifact(ctx context.Context, e *progress.Emitter) (string, string, error) {
	const state = StateAcquiringArtifact

	rel, err := p.releases.Latest(ctx)
	if err != nil {
		return "", "", err
	}
	if rel == nil {
		return "", "", ErrNoRelease
	}
	asset, err := p.releases.Asset(*rel)
	if err != nil {
		return "", "", err
	}

	task := artifact.Task{
		Version:  rel.Name,
		URL:      asset.URL,
		FileName: asset.FileName(),
		Digest:   asset.Digest,
		Size:     asset.Size,
	}
	if path, ok := p.artifacts.Satisfied(ctx, task); ok {
		e.Send(skipped(state, rel.Name+" already downloaded"))
		return path, rel.Name, nil
	}

	tr, err := p.artifacts.Fetch(ctx, e, string(state), task)
	if err != nil {
		return "", "", err
	}
	ev := completed(state, rel.Name+" downloaded")
	ev.Transfer = tr
	e.Send(ev)
	return p.artifacts.Destination(task), rel.Name, nil
}

func (p *Pipeline) acquireBaseImage(ctx context.Context, e *progress.Emitter) error {
	const state = StateAcquiringBaseImage
	ref := p.cfg.BaseImage

	ok, err := p.rt.ImageExists(ctx, ref)
	if err != nil {
		return err
	}
	if ok {
		e.Send(skipped(state, ref+" already present"))
		return nil
	}

	e.Send(started(state, "pulling "+ref))
	rc, err := p.rt.PullImage(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()
	err = runtime.DecodeMessages(rc, func(m runtime.Message) error {
		if e.Due() {
			e.Progress(progress.Event{
				Status:   progress.StatusProgress,
				Action:   string(state),
				ID:       m.ID,
				Message:  m.Status,
				Progress: m.Progress,
			})
		}
		return ctx.Err()
	})
	if err != nil {
		return err
	}
	e.Send(completed(state, ref+" pulled"))
	return nil
}

func (p *Pipeline) buildImage(ctx context.Context, e *progress.Emitter, archive, version string) error {
	const state = StateBuildingImage

	e.Send(started(state, "building "+p.cfg.Image))
	bc, err := buildContext(p.cfg.BaseImage, version, archive)
	if err != nil {
		return err
	}
	defer bc.Close()

	rc, err := p.rt.BuildImage(ctx, bc, p.cfg.Image)
	if err != nil {
		return err
	}
	defer rc.Close()

	err = runtime.DecodeMessages(rc, func(m runtime.Message) error {
		if m.Stream != "" {
			slog.Debug("setup: build", "line", m.Stream)
		}
		if e.Due() {
			e.Progress(progress.Event{
				Status:   progress.StatusProgress,
				Action:   string(state),
				ID:       m.ID,
				Message:  firstNonEmpty(m.Stream, m.Status),
				Progress: m.Progress,
			})
		}
		return ctx.Err()
	})
	if err != nil {
		return err
	}
	e.Send(completed(state, p.cfg.Image+" built"))
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
