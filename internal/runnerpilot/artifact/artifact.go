// Package artifact downloads runner archives into the release directory and
// checks their integrity.
//
// Files are named "<version>-<asset file name>". Whether a version is
// present is decided by that prefix alone, so two versions where one is a
// prefix of the other ("v2.3" and "v2.30") cannot be told apart by name.
// When the release advertises a digest, the content hash decides.
package artifact

import (
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/0xAungkon/RunnerPilot/common/paths"
	"github.com/0xAungkon/RunnerPilot/common/version"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/observability"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
)

var (
	// ErrDigestMismatch means the file on disk does not hash to the
	// advertised digest. The file is left in place.
	ErrDigestMismatch = errors.New("artifact: digest mismatch")

	// ErrAlreadyDownloaded is returned by Pull when the version is already
	// present (and verified, if a digest is known).
	ErrAlreadyDownloaded = errors.New("artifact: already downloaded")
)

// Config configures a Manager.
type Config struct {
	// Dir is the release directory, <VOLUME_PATH>/runners/releases.
	Dir    string
	Client *http.Client
	// Interval spaces progress events; zero means progress.DefaultInterval.
	Interval time.Duration
}

// Task describes one download. Digest is optional.
type Task struct {
	Version string
	URL     string
	// FileName is the asset file name; the destination is
	// Dir/<Version>-<FileName>.
	FileName string
	Digest   string
	Size     int64
}

// Manager owns the release directory.
type Manager struct {
	dir      string
	client   *http.Client
	interval time.Duration
	now      func() time.Time
}

// New returns a Manager for cfg.
func New(cfg Config) *Manager {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{dir: cfg.Dir, client: client, interval: cfg.Interval, now: time.Now}
}

// SetClock overrides the time source used for progress pacing.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Dir returns the release directory.
func (m *Manager) Dir() string { return m.dir }

// Destination returns the canonical path for t.
func (m *Manager) Destination(t Task) string {
	return filepath.Join(m.dir, t.Version+"-"+t.FileName)
}

// matches lists files in the release directory whose names start with
// version, sorted by name.
func (m *Manager) matches(version string) ([]string, error) {
	if version == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: list %s: %w", m.dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), version) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Has reports whether any file for version is present.
func (m *Manager) Has(version string) bool {
	names, err := m.matches(version)
	return err == nil && len(names) > 0
}

// IsSatisfied reports whether version is already present. With a digest,
// a file must also hash to it; a present but mismatched file does not
// count.
func (m *Manager) IsSatisfied(ctx context.Context, version, expected string) bool {
	names, err := m.matches(version)
	if err != nil || len(names) == 0 {
		return false
	}
	if expected == "" {
		return true
	}
	_, ok := m.firstVerified(ctx, names, expected)
	return ok
}

// Satisfied returns the local archive for t when one is already present.
// Only t's own destination counts without a digest; with one, the
// destination is tried first and then any other file of the version. The
// returned path is the file that passed verification.
func (m *Manager) Satisfied(ctx context.Context, t Task) (string, bool) {
	dest := m.Destination(t)
	if t.Digest == "" {
		if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() {
			return dest, true
		}
		return "", false
	}
	names, err := m.matches(t.Version)
	if err != nil || len(names) == 0 {
		return "", false
	}
	base := filepath.Base(dest)
	ordered := make([]string, 0, len(names))
	for _, name := range names {
		if name == base {
			ordered = append([]string{name}, ordered...)
		} else {
			ordered = append(ordered, name)
		}
	}
	return m.firstVerified(ctx, ordered, t.Digest)
}

func (m *Manager) firstVerified(ctx context.Context, names []string, expected string) (string, bool) {
	log := observability.WithTrace(ctx)
	for _, name := range names {
		path := filepath.Join(m.dir, name)
		err := Verify(path, expected)
		if err == nil {
			return path, true
		}
		log.Debug("artifact: candidate rejected", "file", name, "err", err)
	}
	return "", false
}

// ParseDigest accepts "sha256:<hex>" or bare hex, in any case.
func ParseDigest(s string) (digest.Digest, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var d digest.Digest
	if strings.Contains(s, ":") {
		d = digest.Digest(s)
	} else {
		d = digest.NewDigestFromEncoded(digest.SHA256, s)
	}
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("artifact: invalid digest %q: %w", s, err)
	}
	return d, nil
}

// Verify hashes the file at path and compares it with expected.
func Verify(path, expected string) error {
	want, err := ParseDigest(expected)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("artifact: open %s: %w", path, err)
	}
	defer f.Close()

	v := want.Verifier()
	if _, err := io.Copy(v, f); err != nil {
		return fmt.Errorf("artifact: hash %s: %w", path, err)
	}
	if !v.Verified() {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, filepath.Base(path))
	}
	return nil
}

// Remove deletes every file for version and returns their names.
func (m *Manager) Remove(version string) ([]string, error) {
	names, err := m.matches(version)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, name := range names {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			return deleted, fmt.Errorf("artifact: delete %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	if len(deleted) > 0 {
		slog.Info("artifact: version removed", "version", version, "files", len(deleted))
	}
	return deleted, nil
}

// Fetch downloads t inside an existing stream, emitting rate-limited
// progress events under action. The destination is truncated first. On
// success the final transfer (100%) is returned.
func (m *Manager) Fetch(ctx context.Context, e *progress.Emitter, action string, t Task) (*progress.Transfer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artifact: download %s: %w", t.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifact: download %s: %s", t.URL, resp.Status)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	if err := os.MkdirAll(m.dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("artifact: create dir: %w", err)
	}
	dest := m.Destination(t)
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", dest, err)
	}
	defer f.Close()

	e.Send(progress.Event{
		Status:   progress.StatusStarted,
		Action:   action,
		Message:  "downloading " + filepath.Base(dest),
		Transfer: progress.NewTransfer(0, total),
	})

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("artifact: write %s: %w", dest, err)
			}
			downloaded += int64(n)
			if e.Due() {
				e.Progress(progress.Event{
					Status:   progress.StatusProgress,
					Action:   action,
					Transfer: progress.NewTransfer(downloaded, total),
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("artifact: download %s: %w", t.URL, rerr)
		}
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("artifact: sync %s: %w", dest, err)
	}

	if t.Digest != "" {
		if err := Verify(dest, t.Digest); err != nil {
			return nil, err
		}
	}

	observability.WithTrace(ctx).Info("artifact: downloaded", "version", t.Version, "file", filepath.Base(dest), "bytes", downloaded)
	return &progress.Transfer{Downloaded: downloaded, Total: total, Percentage: 100}, nil
}

// Download runs Fetch as a standalone stream with action "download".
func (m *Manager) Download(ctx context.Context, t Task) *progress.Stream {
	const action = "download"
	return progress.Run(ctx, progress.Options{Action: action, Interval: m.interval, Now: m.now},
		func(ctx context.Context, e *progress.Emitter) (progress.Event, error) {
			tr, err := m.Fetch(ctx, e, action, t)
			if err != nil {
				return progress.Event{}, err
			}
			return progress.Event{Message: "download completed", Transfer: tr}, nil
		})
}

// Pull is Download guarded by a synchronous already-present check.
func (m *Manager) Pull(ctx context.Context, t Task) (*progress.Stream, error) {
	if m.IsSatisfied(ctx, t.Version, t.Digest) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDownloaded, t.Version)
	}
	return m.Download(ctx, t), nil
}
