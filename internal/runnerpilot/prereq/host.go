package prereq

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// ImageChecker is the slice of the container runtime HostProbes needs.
type ImageChecker interface {
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, ref string) (bool, error)
}

var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// HostProbes returns probes for the local machine backed by rt.
func HostProbes(rt ImageChecker) Probes {
	return Probes{
		PingRuntime: rt.Ping,
		ImageExists: rt.ImageExists,
		OSRelease:   func() (map[string]string, error) { return ReadOSRelease(osReleasePaths...) },
		Machine:     machine,
		TotalMemory: totalMemory,
	}
}

// ReadOSRelease parses the first readable os-release file among paths.
// The format is shell-style KEY=value, which godotenv reads directly.
func ReadOSRelease(paths ...string) (map[string]string, error) {
	var firstErr error
	for _, p := range paths {
		rel, err := godotenv.Read(p)
		if err == nil {
			return rel, nil
		}
		if firstErr == nil || !errors.Is(err, fs.ErrNotExist) {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fs.ErrNotExist
	}
	return nil, firstErr
}
