package runtime

import "time"

// ContainerSpec describes a container to run.
type ContainerSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Labels map[string]string
	Mounts []Mount
	// RestartPolicy defaults to "unless-stopped".
	RestartPolicy string
}

// Mount is a host bind mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerState mirrors docker container states.
type ContainerState string

const (
	StateRunning    ContainerState = "running"
	StateExited     ContainerState = "exited"
	StateCreated    ContainerState = "created"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateRemoving   ContainerState = "removing"
	StateDead       ContainerState = "dead"
	StateUnknown    ContainerState = "unknown"
)

// ContainerInfo holds live container state.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	State      ContainerState
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Error      string
}

// Running reports whether the container is in the running state.
func (c ContainerInfo) Running() bool {
	return c.State == StateRunning
}

const (
	// LabelManagedBy marks containers RunnerPilot created.
	LabelManagedBy = "runnerpilot.managed-by"
	// LabelInstanceID carries the runner instance ID.
	LabelInstanceID = "runnerpilot.instance-id"
	ManagedByValue  = "runnerpilot"

	DefaultRestartPolicy = "unless-stopped"
	DefaultSocket        = "/var/run/docker.sock"

	// DefaultRunnerImage is the tag setup builds and instances run.
	DefaultRunnerImage = "0xaungkon/gh-runner:latest"
	// DefaultBaseImage is the image the runner image is built FROM.
	DefaultBaseImage = "ubuntu:latest"
)
