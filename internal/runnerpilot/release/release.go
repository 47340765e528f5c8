// Package release keeps a time-boxed local cache of the upstream runner
// release feed and resolves which downloadable asset fits this host.
//
// The feed is assumed to be ordered newest first, as the GitHub releases
// API returns it; "latest" is always the first element and the list is never
// re-sorted.
package release

import (
	"errors"
	"fmt"
	"path"
	"runtime"
	"strings"
	"time"
)

var (
	// ErrUpstreamUnavailable means the feed could not be fetched and no
	// cache file exists to fall back to.
	ErrUpstreamUnavailable = errors.New("release: upstream unavailable")

	// ErrCacheCorrupt means the cache file exists but cannot be parsed.
	ErrCacheCorrupt = errors.New("release: cache corrupt")

	// ErrVersionNotFound means the requested version is not in the feed.
	ErrVersionNotFound = errors.New("release: version not found")

	// ErrNoAsset means a release has no asset for the configured platform.
	ErrNoAsset = errors.New("release: no asset for platform")
)

const (
	DefaultFeedURL      = "https://api.github.com/repos/actions/runner/releases"
	DefaultTTL          = time.Hour
	DefaultFetchTimeout = 10 * time.Second
	DefaultAssetPrefix  = "actions-runner-"
)

// Asset is one downloadable file of a release.
type Asset struct {
	Name   string `json:"name"`
	URL    string `json:"browser_download_url"`
	Size   int64  `json:"size"`
	Digest string `json:"digest,omitempty"`
}

// FileName is the asset's file name, falling back to the URL's last path
// element when the feed omits it.
func (a Asset) FileName() string {
	if a.Name != "" {
		return a.Name
	}
	return path.Base(a.URL)
}

// Release is one upstream release. Name is the version string.
type Release struct {
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
	Assets      []Asset   `json:"assets"`
}

// HostPlatform returns the runner platform token for the running binary,
// e.g. "linux-x64" or "osx-arm64".
func HostPlatform() string {
	return PlatformFor(runtime.GOOS, runtime.GOARCH)
}

// PlatformFor maps a GOOS/GOARCH pair to the runner's naming scheme.
func PlatformFor(goos, goarch string) string {
	osToken := goos
	switch goos {
	case "darwin":
		osToken = "osx"
	case "windows":
		osToken = "win"
	}
	archToken := goarch
	switch goarch {
	case "amd64":
		archToken = "x64"
	case "386":
		archToken = "x86"
	}
	return osToken + "-" + archToken
}

// SelectAsset picks the asset for platform ("os-arch"). An asset whose name
// carries prefix+platform wins; otherwise the first asset carrying
// prefix+os is used; otherwise there is no match. The result depends only on
// the asset list order.
func SelectAsset(assets []Asset, platform, prefix string) (Asset, bool) {
	osToken, _, _ := strings.Cut(platform, "-")
	exact := prefix + platform + "-"
	generic := prefix + osToken + "-"

	for _, a := range assets {
		if strings.Contains(a.FileName(), exact) {
			return a, true
		}
	}
	for _, a := range assets {
		if strings.Contains(a.FileName(), generic) {
			return a, true
		}
	}
	return Asset{}, false
}

// View is a release as presented to callers, with its selected asset and
// local download state.
type View struct {
	Name                string    `json:"name"`
	PublishedAt         time.Time `json:"published_at"`
	HTMLURL             string    `json:"html_url"`
	DownloadURL         string    `json:"download_url,omitempty"`
	Size                int64     `json:"size,omitempty"`
	Digest              string    `json:"digest,omitempty"`
	IsPulled            bool      `json:"is_pulled"`
	IsPlatformAvailable bool      `json:"is_platform_available"`
}

func notFound(version string) error {
	return fmt.Errorf("%w: %s", ErrVersionNotFound, version)
}
