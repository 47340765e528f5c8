package docker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
)

func TestParseContainerState(t *testing.T) {
	cases := []struct {
		input string
		want  runtime.ContainerState
	}{
		{"running", runtime.StateRunning},
		{"RUNNING", runtime.StateRunning},
		{"exited", runtime.StateExited},
		{"created", runtime.StateCreated},
		{"paused", runtime.StatePaused},
		{"restarting", runtime.StateRestarting},
		{"removing", runtime.StateRemoving},
		{"dead", runtime.StateDead},
		{"", runtime.StateUnknown},
	}

	for _, tc := range cases {
		got := parseContainerState(tc.input)
		if got != tc.want {
			t.Errorf("parseContainerState(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestContainerConfig(t *testing.T) {
	cfg, host := containerConfig(runtime.ContainerSpec{
		Name:  "runner-abc123",
		Image: "0xaungkon/gh-runner:latest",
		Env: map[string]string{
			"RUNNER_URL":   "https://github.com/acme/widgets",
			"RUNNER_TOKEN": "tok",
		},
		Labels: map[string]string{runtime.LabelInstanceID: "id-1"},
		Mounts: []runtime.Mount{{Source: "/var/run/docker.sock", Target: "/var/run/docker.sock"}},
	})

	wantEnv := []string{"RUNNER_TOKEN=tok", "RUNNER_URL=https://github.com/acme/widgets"}
	if fmt.Sprint(cfg.Env) != fmt.Sprint(wantEnv) {
		t.Errorf("Env = %v, want %v", cfg.Env, wantEnv)
	}
	if cfg.Labels[runtime.LabelManagedBy] != runtime.ManagedByValue {
		t.Errorf("managed-by label missing: %v", cfg.Labels)
	}
	if cfg.Labels[runtime.LabelInstanceID] != "id-1" {
		t.Errorf("instance label missing: %v", cfg.Labels)
	}
	if string(host.RestartPolicy.Name) != runtime.DefaultRestartPolicy {
		t.Errorf("RestartPolicy = %q", host.RestartPolicy.Name)
	}
	if len(host.Mounts) != 1 || host.Mounts[0].Type != mount.TypeBind || host.Mounts[0].Target != "/var/run/docker.sock" {
		t.Errorf("Mounts = %+v", host.Mounts)
	}
}

func TestInfoFromInspect(t *testing.T) {
	inspect := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    "c0ffee",
			Name:  "/runner-abc123",
			Image: "sha256:1",
			State: &container.State{
				Status:    "running",
				StartedAt: "2026-01-02T03:04:05.123456789Z",
				ExitCode:  0,
			},
		},
		Config: &container.Config{Image: "0xaungkon/gh-runner:latest"},
	}

	info := infoFromInspect(inspect)
	if info.ID != "c0ffee" || info.Name != "runner-abc123" {
		t.Errorf("unexpected identity: %+v", info)
	}
	if !info.Running() {
		t.Errorf("expected running, got %q", info.State)
	}
	if info.Image != "0xaungkon/gh-runner:latest" {
		t.Errorf("Image = %q", info.Image)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt not parsed")
	}
}

func TestInfoFromInspect_NilBase(t *testing.T) {
	if got := infoFromInspect(container.InspectResponse{}); got.State != runtime.StateUnknown {
		t.Errorf("State = %q, want unknown", got.State)
	}
}

func TestClassify(t *testing.T) {
	notFound := classify("inspect container x", fmt.Errorf("no such container: %w", errdefs.ErrNotFound))
	if !errors.Is(notFound, runtime.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", notFound)
	}

	unavailable := classify("ping", fmt.Errorf("daemon down: %w", errdefs.ErrUnavailable))
	if !errors.Is(unavailable, runtime.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", unavailable)
	}

	other := classify("stop container x", errors.New("boom"))
	if errors.Is(other, runtime.ErrNotFound) || errors.Is(other, runtime.ErrUnavailable) {
		t.Errorf("unexpected classification: %v", other)
	}
}
