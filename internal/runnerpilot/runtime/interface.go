// Package runtime defines the container engine operations RunnerPilot
// consumes. Containers are addressed by name; the runner name is the
// container name.
package runtime

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a container or image does not exist.
	ErrNotFound = errors.New("runtime: not found")

	// ErrUnavailable is returned when the container engine cannot be reached.
	ErrUnavailable = errors.New("runtime: engine unavailable")
)

// Runtime abstracts the container engine. None of the calls retry; errors
// surface to the caller as-is.
type Runtime interface {
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// Run creates and starts a container from spec.
	Run(ctx context.Context, spec ContainerSpec) (ContainerInfo, error)

	// Inspect returns the live state of the named container, or ErrNotFound.
	Inspect(ctx context.Context, name string) (ContainerInfo, error)

	// Start starts a stopped container.
	Start(ctx context.Context, name string) error

	// Stop gracefully stops a container.
	Stop(ctx context.Context, name string) error

	// Restart stops and starts a container.
	Restart(ctx context.Context, name string) error

	// Remove force-removes a container.
	Remove(ctx context.Context, name string) error

	// Logs returns the container's combined stdout/stderr as plain text.
	// With follow set the reader stays open until the container stops or
	// the reader is closed.
	Logs(ctx context.Context, name string, follow bool) (io.ReadCloser, error)

	// List returns the containers carrying the managed-by label.
	List(ctx context.Context) ([]ContainerInfo, error)

	// ImageExists reports whether ref is present locally.
	ImageExists(ctx context.Context, ref string) (bool, error)

	// PullImage pulls ref and returns the engine's JSON message stream.
	PullImage(ctx context.Context, ref string) (io.ReadCloser, error)

	// BuildImage builds a tar build context and tags the result. It returns
	// the engine's JSON message stream.
	BuildImage(ctx context.Context, buildContext io.Reader, tag string) (io.ReadCloser, error)
}
