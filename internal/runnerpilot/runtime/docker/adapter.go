// Package docker implements runtime.Runtime on the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
)

// stopTimeout is how long to wait for graceful container stop before SIGKILL.
const stopTimeout = 10 * time.Second

// Adapter implements runtime.Runtime using the Docker Engine API.
type Adapter struct {
	client *dockerclient.Client
}

var _ runtime.Runtime = (*Adapter)(nil)

// New creates a Docker adapter. An empty socket uses DOCKER_HOST or the
// default socket path.
func New(socket string) (*Adapter, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if socket != "" {
		opts = append(opts, dockerclient.WithHost("unix://"+socket))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli}, nil
}

// Close releases the client's connections.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.client.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Run creates and starts a container. If start fails the created container
// is removed again.
func (a *Adapter) Run(ctx context.Context, spec runtime.ContainerSpec) (runtime.ContainerInfo, error) {
	if spec.Image == "" {
		return runtime.ContainerInfo{}, fmt.Errorf("spec.Image is required")
	}
	if spec.Name == "" {
		return runtime.ContainerInfo{}, fmt.Errorf("spec.Name is required")
	}

	cfg, hostCfg := containerConfig(spec)
	resp, err := a.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return runtime.ContainerInfo{}, classify("create container", err)
	}

	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return runtime.ContainerInfo{}, classify("start container", err)
	}

	return a.Inspect(ctx, resp.ID)
}

func (a *Adapter) Inspect(ctx context.Context, name string) (runtime.ContainerInfo, error) {
	inspect, err := a.client.ContainerInspect(ctx, name)
	if err != nil {
		return runtime.ContainerInfo{}, classify("inspect container "+name, err)
	}
	return infoFromInspect(inspect), nil
}

func (a *Adapter) Start(ctx context.Context, name string) error {
	if err := a.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return classify("start container "+name, err)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context, name string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return classify("stop container "+name, err)
	}
	return nil
}

func (a *Adapter) Restart(ctx context.Context, name string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return classify("restart container "+name, err)
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, name string) error {
	if err := a.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return classify("remove container "+name, err)
	}
	return nil
}

// Logs returns demultiplexed logs. Containers without a TTY send a
// multiplexed stream that is split with stdcopy.
func (a *Adapter) Logs(ctx context.Context, name string, follow bool) (io.ReadCloser, error) {
	inspect, err := a.client.ContainerInspect(ctx, name)
	if err != nil {
		return nil, classify("inspect container "+name, err)
	}
	rc, err := a.client.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       "all",
	})
	if err != nil {
		return nil, classify("container logs "+name, err)
	}
	if inspect.Config != nil && inspect.Config.Tty {
		return rc, nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()
	return &demuxed{PipeReader: pr, src: rc}, nil
}

type demuxed struct {
	*io.PipeReader
	src io.Closer
}

func (d *demuxed) Close() error {
	err := d.src.Close()
	d.PipeReader.Close()
	return err
}

func (a *Adapter) List(ctx context.Context) ([]runtime.ContainerInfo, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", runtime.LabelManagedBy+"="+runtime.ManagedByValue),
		),
	})
	if err != nil {
		return nil, classify("list containers", err)
	}

	out := make([]runtime.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, runtime.ContainerInfo{
			ID:    c.ID,
			Name:  name,
			Image: c.Image,
			State: parseContainerState(string(c.State)),
		})
	}
	return out, nil
}

func (a *Adapter) ImageExists(ctx context.Context, ref string) (bool, error) {
	if _, err := a.client.ImageInspect(ctx, ref); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, classify("inspect image "+ref, err)
	}
	return true, nil
}

func (a *Adapter) PullImage(ctx context.Context, ref string) (io.ReadCloser, error) {
	rc, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return nil, classify("pull image "+ref, err)
	}
	return rc, nil
}

func (a *Adapter) BuildImage(ctx context.Context, buildContext io.Reader, tag string) (io.ReadCloser, error) {
	resp, err := a.client.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{runtime.LabelManagedBy: runtime.ManagedByValue},
	})
	if err != nil {
		return nil, classify("build image "+tag, err)
	}
	return resp.Body, nil
}

// --- helpers ---

// classify wraps err with runtime.ErrNotFound or runtime.ErrUnavailable when
// the engine error says so.
func classify(op string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s: %w: %w", op, runtime.ErrNotFound, err)
	case dockerclient.IsErrConnectionFailed(err), errdefs.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, runtime.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func containerConfig(spec runtime.ContainerSpec) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	labels := map[string]string{runtime.LabelManagedBy: runtime.ManagedByValue}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	policy := spec.RestartPolicy
	if policy == "" {
		policy = runtime.DefaultRestartPolicy
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	return &container.Config{
			Image:  spec.Image,
			Env:    env,
			Labels: labels,
		}, &container.HostConfig{
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(policy)},
			Mounts:        mounts,
		}
}

func infoFromInspect(inspect container.InspectResponse) runtime.ContainerInfo {
	info := runtime.ContainerInfo{State: runtime.StateUnknown}
	if inspect.ContainerJSONBase == nil {
		return info
	}
	info.ID = inspect.ID
	info.Name = strings.TrimPrefix(inspect.Name, "/")
	info.Image = inspect.Image
	if inspect.Config != nil && inspect.Config.Image != "" {
		info.Image = inspect.Config.Image
	}
	if st := inspect.State; st != nil {
		info.State = parseContainerState(string(st.Status))
		info.StartedAt, _ = time.Parse(time.RFC3339Nano, st.StartedAt)
		info.FinishedAt, _ = time.Parse(time.RFC3339Nano, st.FinishedAt)
		info.ExitCode = st.ExitCode
		info.Error = st.Error
	}
	return info
}

func parseContainerState(s string) runtime.ContainerState {
	switch strings.ToLower(s) {
	case "running":
		return runtime.StateRunning
	case "exited":
		return runtime.StateExited
	case "created":
		return runtime.StateCreated
	case "paused":
		return runtime.StatePaused
	case "restarting":
		return runtime.StateRestarting
	case "removing":
		return runtime.StateRemoving
	case "dead":
		return runtime.StateDead
	default:
		return runtime.StateUnknown
	}
}
