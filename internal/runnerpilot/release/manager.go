package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
	"golang.org/x/sync/singleflight"

	"github.com/0xAungkon/RunnerPilot/common/paths"
	"github.com/0xAungkon/RunnerPilot/common/retry"
	"github.com/0xAungkon/RunnerPilot/common/version"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/observability"
)

// Config holds the cache location and feed settings.
type Config struct {
	FeedURL      string
	CacheFile    string
	TTL          time.Duration
	FetchTimeout time.Duration
	// Platform is the "os-arch" token used for asset selection; empty means
	// the host platform.
	Platform    string
	AssetPrefix string
	// Token, when set, is sent as a bearer token to the feed.
	Token string
}

func (c Config) withDefaults() Config {
	if c.FeedURL == "" {
		c.FeedURL = DefaultFeedURL
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Platform == "" {
		c.Platform = HostPlatform()
	}
	if c.AssetPrefix == "" {
		c.AssetPrefix = DefaultAssetPrefix
	}
	return c
}

// MetaStore holds the last successful pull time.
type MetaStore interface {
	Time(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

// Inventory reports whether a version has been downloaded locally.
type Inventory interface {
	Has(version string) bool
}

// Manager serves the release feed from cache or upstream.
type Manager struct {
	cfg    Config
	meta   MetaStore
	client *http.Client
	inv    Inventory
	retry  retry.Config
	now    func() time.Time
	group  singleflight.Group
}

// New returns a Manager. client may be nil.
func New(cfg Config, store MetaStore, client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		meta:   store,
		client: client,
		retry:  retry.DefaultConfig,
		now:    time.Now,
	}
}

// SetInventory wires the local artifact inventory used by List.
func (m *Manager) SetInventory(inv Inventory) { m.inv = inv }

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetRetry overrides the fetch retry policy.
func (m *Manager) SetRetry(cfg retry.Config) { m.retry = cfg }

// Platform returns the effective platform token.
func (m *Manager) Platform() string { return m.cfg.Platform }

// IsFresh reports whether the cache can be served without a remote call:
// the last pull is younger than the TTL and the cache file exists.
func (m *Manager) IsFresh(ctx context.Context) bool {
	last, err := m.meta.Time(ctx, meta.KeyLastPulledRelease)
	if err != nil {
		return false
	}
	if m.now().Sub(last) >= m.cfg.TTL {
		return false
	}
	_, err = os.Stat(m.cfg.CacheFile)
	return err == nil
}

// Releases returns the feed, from cache when fresh. When the upstream fetch
// fails, any existing cache is served regardless of age; only when there is
// no usable cache at all does it return ErrUpstreamUnavailable.
func (m *Manager) Releases(ctx context.Context) ([]Release, error) {
	log := observability.WithTrace(ctx)

	if m.IsFresh(ctx) {
		releases, err := m.readCache()
		if err == nil {
			return releases, nil
		}
		log.Warn("release: cache unreadable, refetching", "file", m.cfg.CacheFile, "err", err)
	}

	releases, fetchErr := m.Refresh(ctx)
	if fetchErr == nil {
		return releases, nil
	}

	stale, err := m.readCache()
	if err == nil {
		log.Warn("release: upstream fetch failed, serving stale cache", "err", fetchErr)
		return stale, nil
	}
	if errors.Is(err, ErrCacheCorrupt) {
		log.Warn("release: stale cache unusable", "err", err)
	}
	if errors.Is(fetchErr, ErrUpstreamUnavailable) {
		return nil, fetchErr
	}
	return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, fetchErr)
}

// Refresh forces a remote fetch, then atomically rewrites the cache file and
// records the pull time. Concurrent refreshes share one fetch. A failed fetch
// yields ErrUpstreamUnavailable.
func (m *Manager) Refresh(ctx context.Context) ([]Release, error) {
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]Release), nil
}

func (m *Manager) refresh(ctx context.Context) ([]Release, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	var raw []byte
	err := retry.Do(ctx, m.retry, func() error {
		var err error
		raw, err = m.fetch(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	releases, err := parseFeed(raw)
	if err != nil {
		return nil, fmt.Errorf("release: upstream payload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.CacheFile), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("release: create cache dir: %w", err)
	}
	if err := atomicwriter.WriteFile(m.cfg.CacheFile, raw, paths.DefaultFileMode); err != nil {
		return nil, fmt.Errorf("release: write cache: %w", err)
	}
	if err := m.meta.SetTime(ctx, meta.KeyLastPulledRelease, m.now()); err != nil {
		return nil, fmt.Errorf("release: record pull time: %w", err)
	}

	observability.WithTrace(ctx).Info("release: feed refreshed", "count", len(releases))
	return releases, nil
}

func (m *Manager) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.FeedURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("release: build request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", version.UserAgent())
	if m.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("release: feed returned %s", resp.Status)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("release: read feed: %w", err)
	}
	return body, nil
}

// readCache parses the cache file. A missing file yields an
// os.ErrNotExist-wrapping error; unparsable content yields ErrCacheCorrupt.
func (m *Manager) readCache() ([]Release, error) {
	raw, err := os.ReadFile(m.cfg.CacheFile)
	if err != nil {
		return nil, fmt.Errorf("release: read cache: %w", err)
	}
	releases, err := parseFeed(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
	}
	return releases, nil
}

// Latest returns the first release of the feed, or nil for an empty feed.
func (m *Manager) Latest(ctx context.Context) (*Release, error) {
	releases, err := m.Releases(ctx)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, nil
	}
	return &releases[0], nil
}

// Find returns the release named version.
func (m *Manager) Find(ctx context.Context, version string) (*Release, error) {
	releases, err := m.Releases(ctx)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		if releases[i].Name == version {
			return &releases[i], nil
		}
	}
	return nil, notFound(version)
}

// Asset selects r's asset for the configured platform.
func (m *Manager) Asset(r Release) (Asset, error) {
	a, ok := SelectAsset(r.Assets, m.cfg.Platform, m.cfg.AssetPrefix)
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s has no %s asset", ErrNoAsset, r.Name, m.cfg.Platform)
	}
	return a, nil
}

// List returns every release with its selected asset and download state.
func (m *Manager) List(ctx context.Context) ([]View, error) {
	releases, err := m.Releases(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(releases))
	for _, r := range releases {
		v := View{Name: r.Name, PublishedAt: r.PublishedAt, HTMLURL: r.HTMLURL}
		if a, ok := SelectAsset(r.Assets, m.cfg.Platform, m.cfg.AssetPrefix); ok {
			v.DownloadURL = a.URL
			v.Size = a.Size
			v.Digest = a.Digest
			v.IsPlatformAvailable = true
		}
		if m.inv != nil {
			v.IsPulled = m.inv.Has(r.Name)
		}
		out = append(out, v)
	}
	return out, nil
}
