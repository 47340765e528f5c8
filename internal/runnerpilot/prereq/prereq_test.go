package prereq_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/prereq"
)

func healthy() prereq.Probes {
	return prereq.Probes{
		PingRuntime: func(context.Context) error { return nil },
		ImageExists: func(context.Context, string) (bool, error) { return true, nil },
		OSRelease: func() (map[string]string, error) {
			return map[string]string{"ID": "ubuntu", "PRETTY_NAME": "Ubuntu 24.04 LTS"}, nil
		},
		Machine:     func() (string, error) { return "x86_64", nil },
		TotalMemory: func() (uint64, error) { return 8 << 30, nil },
	}
}

func byKey(r prereq.Report) map[string]prereq.Result {
	out := map[string]prereq.Result{}
	for _, c := range r.Checks {
		out[c.Key] = c
	}
	return out
}

func TestCheck_AllPass(t *testing.T) {
	r := prereq.New(healthy(), "0xaungkon/gh-runner:latest").Check(context.Background())

	assert.True(t, r.Status)
	require.Len(t, r.Checks, 5)
	assert.Empty(t, r.Failed())
	assert.Equal(t, "all prerequisites met", r.Summary())

	keys := []string{}
	for _, c := range r.Checks {
		keys = append(keys, c.Key)
		assert.True(t, c.Status, c.Key)
	}
	assert.Equal(t, []string{
		prereq.KeyDockerAvailable, prereq.KeyDebianUbuntuOS, prereq.KeyCPU64Bit,
		prereq.KeyMinimumRAM, prereq.KeyRunnerImage,
	}, keys)

	checks := byKey(r)
	assert.Equal(t, "System is Ubuntu 24.04 LTS", checks[prereq.KeyDebianUbuntuOS].Message)
	assert.Equal(t, "System has 8GiB RAM available", checks[prereq.KeyMinimumRAM].Message)
	assert.False(t, checks[prereq.KeyRunnerImage].Mandatory)
}

func TestCheck_InformationalFailureDoesNotBlock(t *testing.T) {
	p := healthy()
	p.ImageExists = func(context.Context, string) (bool, error) { return false, nil }

	r := prereq.New(p, "img:latest").Check(context.Background())
	assert.True(t, r.Status)
	assert.False(t, byKey(r)[prereq.KeyRunnerImage].Status)
	assert.Equal(t, "img:latest Docker image is not available", byKey(r)[prereq.KeyRunnerImage].Message)
}

func TestCheck_MandatoryFailures(t *testing.T) {
	cases := map[string]struct {
		mutate func(*prereq.Probes)
		key    string
	}{
		"runtime down": {
			func(p *prereq.Probes) { p.PingRuntime = func(context.Context) error { return errors.New("refused") } },
			prereq.KeyDockerAvailable,
		},
		"fedora": {
			func(p *prereq.Probes) {
				p.OSRelease = func() (map[string]string, error) {
					return map[string]string{"ID": "fedora", "PRETTY_NAME": "Fedora Linux 40"}, nil
				}
			},
			prereq.KeyDebianUbuntuOS,
		},
		"no os-release": {
			func(p *prereq.Probes) { p.OSRelease = func() (map[string]string, error) { return nil, os.ErrNotExist } },
			prereq.KeyDebianUbuntuOS,
		},
		"32-bit": {
			func(p *prereq.Probes) { p.Machine = func() (string, error) { return "armv7l", nil } },
			prereq.KeyCPU64Bit,
		},
		"low memory": {
			func(p *prereq.Probes) { p.TotalMemory = func() (uint64, error) { return 512 << 20, nil } },
			prereq.KeyMinimumRAM,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := healthy()
			tc.mutate(&p)
			r := prereq.New(p, "img").Check(context.Background())

			assert.False(t, r.Status)
			failed := r.Failed()
			require.Len(t, failed, 1)
			assert.Equal(t, tc.key, failed[0].Key)
			assert.Equal(t, failed[0].Message, r.Summary())
		})
	}
}

func TestCheck_ArchitectureNames(t *testing.T) {
	for machine, want := range map[string]bool{
		"x86_64": true, "aarch64": true, "arm64": true, "ppc64le": true, "i686": false, "armv7l": false,
	} {
		p := healthy()
		p.Machine = func() (string, error) { return machine, nil }
		r := prereq.New(p, "img").Check(context.Background())
		assert.Equal(t, want, byKey(r)[prereq.KeyCPU64Bit].Status, machine)
	}
}

func TestReadOSRelease(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(p, []byte(`PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
NAME="Debian GNU/Linux"
VERSION_ID="12"
ID=debian
HOME_URL="https://www.debian.org/"
`), 0o644))

	rel, err := prereq.ReadOSRelease(filepath.Join(dir, "missing"), p)
	require.NoError(t, err)
	assert.Equal(t, "debian", rel["ID"])
	assert.Equal(t, "Debian GNU/Linux 12 (bookworm)", rel["PRETTY_NAME"])

	_, err = prereq.ReadOSRelease(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
