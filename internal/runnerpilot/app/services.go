package app

import (
	"context"
	"fmt"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/artifact"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/audit"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/instance"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/prereq"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/release"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/setup"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/store"
)

// Services groups the components behind the API and the CLI.
type Services struct {
	Store     *store.Store
	Meta      *meta.Store
	Releases  *release.Manager
	Artifacts *artifact.Manager
	Instances *instance.Orchestrator
	Setup     *setup.Pipeline
	Prereqs   *prereq.Checker
	Notifier  audit.Notifier
}

func (s *Services) notifier() audit.Notifier {
	if s.Notifier == nil {
		return audit.Noop{}
	}
	return s.Notifier
}

// ReleaseTask resolves version (the latest release when empty) to a
// download task for this host's platform.
func (s *Services) ReleaseTask(ctx context.Context, version string) (artifact.Task, error) {
	var rel *release.Release
	var err error
	if version == "" {
		rel, err = s.Releases.Latest(ctx)
		if err == nil && rel == nil {
			err = fmt.Errorf("%w: feed is empty", release.ErrVersionNotFound)
		}
	} else {
		rel, err = s.Releases.Find(ctx, version)
	}
	if err != nil {
		return artifact.Task{}, err
	}

	asset, err := s.Releases.Asset(*rel)
	if err != nil {
		return artifact.Task{}, err
	}
	return artifact.Task{
		Version:  rel.Name,
		URL:      asset.URL,
		FileName: asset.FileName(),
		Digest:   asset.Digest,
		Size:     asset.Size,
	}, nil
}

// PullRelease starts downloading version. Resolution failures and an
// already-present version fail before the stream starts.
func (s *Services) PullRelease(ctx context.Context, version string) (*progress.Stream, error) {
	task, err := s.ReleaseTask(ctx, version)
	if err != nil {
		return nil, err
	}
	stream, err := s.Artifacts.Pull(ctx, task)
	if err != nil {
		return nil, err
	}
	return stream.Observe(func(ev progress.Event) {
		if ev.Status == progress.StatusCompleted && ev.Action == "download" {
			s.notifier().Notify(ctx, audit.Event{Kind: audit.KindReleasePulled, Target: task.Version})
		}
	}), nil
}

// DeleteRelease removes every downloaded file for version.
func (s *Services) DeleteRelease(ctx context.Context, version string) ([]string, error) {
	deleted, err := s.Artifacts.Remove(version)
	if err != nil {
		return deleted, err
	}
	if len(deleted) == 0 {
		return nil, fmt.Errorf("%w: %s is not downloaded", release.ErrVersionNotFound, version)
	}
	s.notifier().Notify(ctx, audit.Event{Kind: audit.KindReleaseDeleted, Target: version})
	return deleted, nil
}

// IsSetup reports the setup-complete flag. A missing flag reads as false.
func (s *Services) IsSetup(ctx context.Context) (bool, error) {
	return s.Meta.Bool(ctx, meta.KeyIsSetup)
}
