// Package prereq checks whether the host can run RunnerPilot.
//
// Each check yields a pass/fail result and a human-readable message.
// Mandatory failures block setup; informational checks are reported only.
package prereq

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/docker/go-units"
)

// Check keys.
const (
	KeyDockerAvailable = "docker_available"
	KeyDebianUbuntuOS  = "debian_ubuntu_os"
	KeyCPU64Bit        = "cpu_64bit"
	KeyMinimumRAM      = "minimum_ram"
	KeyRunnerImage     = "gh_runner_docker_image"
)

// MinimumRAM is the smallest total memory accepted.
const MinimumRAM = 1 << 30

// Result is the outcome of one check.
type Result struct {
	Key       string `json:"key"`
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	Mandatory bool   `json:"mandatory"`
}

// Report is the outcome of all checks. Status is true when every mandatory
// check passed.
type Report struct {
	Checks []Result `json:"checks"`
	Status bool     `json:"status"`
}

// Failed returns the mandatory checks that did not pass.
func (r Report) Failed() []Result {
	var out []Result
	for _, c := range r.Checks {
		if c.Mandatory && !c.Status {
			out = append(out, c)
		}
	}
	return out
}

// Summary joins the messages of failed mandatory checks.
func (r Report) Summary() string {
	failed := r.Failed()
	if len(failed) == 0 {
		return "all prerequisites met"
	}
	msgs := make([]string, 0, len(failed))
	for _, c := range failed {
		msgs = append(msgs, c.Message)
	}
	return strings.Join(msgs, "; ")
}

// Probes gathers host facts. Every field is required.
type Probes struct {
	// PingRuntime returns nil when the container engine answers.
	PingRuntime func(ctx context.Context) error
	// ImageExists reports whether ref is present locally.
	ImageExists func(ctx context.Context, ref string) (bool, error)
	// OSRelease returns the parsed os-release key/value pairs.
	OSRelease func() (map[string]string, error)
	// Machine returns the hardware name, as in uname -m.
	Machine func() (string, error)
	// TotalMemory returns physical memory in bytes.
	TotalMemory func() (uint64, error)
}

// Checker runs the prerequisite checks.
type Checker struct {
	probes Probes
	image  string
}

// New returns a Checker. image is the runner image looked up by the
// informational image check.
func New(p Probes, image string) *Checker {
	return &Checker{probes: p, image: image}
}

type check struct {
	key       string
	mandatory bool
	run       func(ctx context.Context, c *Checker) (bool, string)
}

var checks = []check{
	{KeyDockerAvailable, true, checkRuntime},
	{KeyDebianUbuntuOS, true, checkOS},
	{KeyCPU64Bit, true, checkCPU},
	{KeyMinimumRAM, true, checkRAM},
	{KeyRunnerImage, false, checkImage},
}

// Check runs every check in a fixed order.
func (c *Checker) Check(ctx context.Context) Report {
	r := Report{Checks: make([]Result, 0, len(checks)), Status: true}
	for _, chk := range checks {
		ok, msg := chk.run(ctx, c)
		r.Checks = append(r.Checks, Result{Key: chk.key, Status: ok, Message: msg, Mandatory: chk.mandatory})
		if chk.mandatory && !ok {
			r.Status = false
		}
	}
	return r
}

func checkRuntime(ctx context.Context, c *Checker) (bool, string) {
	if err := c.probes.PingRuntime(ctx); err != nil {
		return false, "Docker daemon is not running or not accessible"
	}
	return true, "Docker daemon is running and accessible"
}

var supportedOS = []string{"debian", "ubuntu"}

func checkOS(_ context.Context, c *Checker) (bool, string) {
	rel, err := c.probes.OSRelease()
	if err != nil {
		return false, "Unable to identify the operating system, only Debian/Ubuntu are supported"
	}
	name := rel["PRETTY_NAME"]
	if name == "" {
		name = rel["NAME"]
	}
	if name == "" {
		name = rel["ID"]
	}
	if slices.Contains(supportedOS, strings.ToLower(rel["ID"])) {
		return true, "System is " + name
	}
	return false, fmt.Sprintf("System is %s, only Debian/Ubuntu are supported", name)
}

func is64Bit(machine string) bool {
	switch machine {
	case "x86_64", "amd64", "arm64", "aarch64":
		return true
	}
	return strings.Contains(machine, "64")
}

func checkCPU(_ context.Context, c *Checker) (bool, string) {
	machine, err := c.probes.Machine()
	if err != nil {
		return false, "Unable to determine CPU architecture"
	}
	if is64Bit(machine) {
		return true, fmt.Sprintf("CPU architecture is %s (64-bit)", machine)
	}
	return false, fmt.Sprintf("CPU architecture is %s, 64-bit required", machine)
}

func checkRAM(_ context.Context, c *Checker) (bool, string) {
	total, err := c.probes.TotalMemory()
	if err != nil {
		return false, "Unable to determine total memory"
	}
	size := units.BytesSize(float64(total))
	if total >= MinimumRAM {
		return true, fmt.Sprintf("System has %s RAM available", size)
	}
	return false, fmt.Sprintf("System has %s RAM, minimum %s required", size, units.BytesSize(MinimumRAM))
}

func checkImage(ctx context.Context, c *Checker) (bool, string) {
	ok, err := c.probes.ImageExists(ctx, c.image)
	if err != nil || !ok {
		return false, c.image + " Docker image is not available"
	}
	return true, c.image + " Docker image is available"
}
