package artifact_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/artifact"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sha(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func newManager(t *testing.T) *artifact.Manager {
	t.Helper()
	return artifact.New(artifact.Config{Dir: filepath.Join(t.TempDir(), "runners", "releases")})
}

func writeFile(t *testing.T, m *artifact.Manager, name string, content []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(m.Dir(), 0o755))
	p := filepath.Join(m.Dir(), name)
	require.NoError(t, os.WriteFile(p, content, 0o644))
	return p
}

func TestIsSatisfied(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	content := []byte("runner archive")

	assert.False(t, m.IsSatisfied(ctx, "v2.330.0", ""), "missing directory")

	writeFile(t, m, "v2.330.0-actions-runner-linux-x64-2.330.0.tar.gz", content)

	assert.True(t, m.IsSatisfied(ctx, "v2.330.0", ""), "name only")
	assert.True(t, m.IsSatisfied(ctx, "v2.330.0", "sha256:"+sha(content)))
	assert.True(t, m.IsSatisfied(ctx, "v2.330.0", strings.ToUpper(sha(content))), "bare upper-case hex")
	assert.False(t, m.IsSatisfied(ctx, "v2.330.0", "sha256:"+sha([]byte("other"))), "non-empty file with wrong content")
	assert.False(t, m.IsSatisfied(ctx, "v2.331.0", ""), "other version")
}

func TestVerify(t *testing.T) {
	m := newManager(t)
	p := writeFile(t, m, "v1-file", []byte("abc"))

	require.NoError(t, artifact.Verify(p, sha([]byte("abc"))))
	require.ErrorIs(t, artifact.Verify(p, sha([]byte("abd"))), artifact.ErrDigestMismatch)
	require.Error(t, artifact.Verify(p, "sha256:nothex"))
}

func TestDownload_ProgressAndCompletion(t *testing.T) {
	payload := bytes.Repeat([]byte("r"), 30000)
	clk := &clock{t: time.Unix(0, 0)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		for i := 0; i < len(payload); i += 1000 {
			w.Write(payload[i : i+1000])
			w.(http.Flusher).Flush()
			clk.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}))
	defer srv.Close()

	m := newManager(t)
	m.SetClock(clk.Now)

	task := artifact.Task{
		Version:  "v2.330.0",
		URL:      srv.URL + "/actions-runner-linux-x64-2.330.0.tar.gz",
		FileName: "actions-runner-linux-x64-2.330.0.tar.gz",
		Digest:   "sha256:" + sha(payload),
	}
	events := m.Download(context.Background(), task).Collect()
	require.NotEmpty(t, events)

	// Rate limiting keeps the event count well below the chunk count.
	assert.Less(t, len(events), 30)

	var last int64 = -1
	for _, ev := range events[:len(events)-1] {
		require.NotEqual(t, progress.StatusCompleted, ev.Status)
		require.NotNil(t, ev.Transfer)
		assert.GreaterOrEqual(t, ev.Downloaded, last)
		last = ev.Downloaded
		assert.Equal(t, int64(30000), ev.Total)
	}

	final := events[len(events)-1]
	assert.Equal(t, progress.StatusCompleted, final.Status)
	require.NotNil(t, final.Transfer)
	assert.Equal(t, 100.0, final.Percentage)
	assert.Equal(t, int64(30000), final.Downloaded)

	got, err := os.ReadFile(m.Destination(task))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, m.IsSatisfied(context.Background(), task.Version, task.Digest))
}

func TestDownload_OverwritesExistingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new"))
	}))
	defer srv.Close()

	m := newManager(t)
	task := artifact.Task{Version: "v1", URL: srv.URL, FileName: "a.tar.gz"}
	writeFile(t, m, "v1-a.tar.gz", []byte("old content that is longer"))

	events := m.Download(context.Background(), task).Collect()
	assert.Equal(t, progress.StatusCompleted, events[len(events)-1].Status)

	got, err := os.ReadFile(m.Destination(task))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestDownload_DigestMismatchKeepsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	m := newManager(t)
	task := artifact.Task{Version: "v1", URL: srv.URL, FileName: "a.tar.gz", Digest: sha([]byte("genuine"))}

	events := m.Download(context.Background(), task).Collect()
	final := events[len(events)-1]
	assert.Equal(t, progress.StatusError, final.Status)
	assert.Contains(t, final.Message, "digest mismatch")

	_, err := os.Stat(m.Destination(task))
	assert.NoError(t, err, "mismatched file must not be deleted")
	assert.False(t, m.IsSatisfied(context.Background(), "v1", task.Digest))
}

func TestDownload_HTTPErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := newManager(t)
	events := m.Download(context.Background(), artifact.Task{Version: "v1", URL: srv.URL, FileName: "x"}).Collect()
	require.Len(t, events, 1)
	assert.Equal(t, progress.StatusError, events[0].Status)
	assert.Equal(t, "download", events[0].Action)
}

func TestDownload_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("part1"))
		w.(http.Flusher).Flush()
		w.Write([]byte("part2"))
	}))
	defer srv.Close()

	m := newManager(t)
	events := m.Download(context.Background(), artifact.Task{Version: "v1", URL: srv.URL, FileName: "x"}).Collect()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, int64(0), events[0].Total)
	assert.Equal(t, 0.0, events[0].Percentage)
	final := events[len(events)-1]
	assert.Equal(t, progress.StatusCompleted, final.Status)
	assert.Equal(t, 100.0, final.Percentage)
	assert.Equal(t, int64(10), final.Downloaded)
}

func TestPull_AlreadyDownloaded(t *testing.T) {
	m := newManager(t)
	writeFile(t, m, "v1-a.tar.gz", []byte("x"))

	_, err := m.Pull(context.Background(), artifact.Task{Version: "v1", URL: "http://unused", FileName: "a.tar.gz"})
	require.ErrorIs(t, err, artifact.ErrAlreadyDownloaded)
}

func TestRemove(t *testing.T) {
	m := newManager(t)
	writeFile(t, m, "v1-a.tar.gz", []byte("x"))
	writeFile(t, m, "v1-b.tar.gz", []byte("y"))
	writeFile(t, m, "v2-a.tar.gz", []byte("z"))

	deleted, err := m.Remove("v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1-a.tar.gz", "v1-b.tar.gz"}, deleted)
	assert.False(t, m.Has("v1"))
	assert.True(t, m.Has("v2"))

	deleted, err = m.Remove("v9")
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestSatisfied_ReturnsVerifiedFile(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	good := []byte("runner archive")
	task := artifact.Task{
		Version:  "v2.329.0",
		FileName: "actions-runner-linux-x64-2.329.0.tar.gz",
		Digest:   "sha256:" + sha(good),
	}

	_, ok := m.Satisfied(ctx, task)
	assert.False(t, ok, "nothing downloaded")

	// Sorts ahead of the x64 archive.
	writeFile(t, m, "v2.329.0-actions-runner-linux-arm64-2.329.0.tar.gz", []byte("tampered"))
	_, ok = m.Satisfied(ctx, task)
	assert.False(t, ok, "only a mismatched sibling")

	want := writeFile(t, m, "v2.329.0-actions-runner-linux-x64-2.329.0.tar.gz", good)
	got, ok := m.Satisfied(ctx, task)
	require.True(t, ok)
	assert.Equal(t, want, got)
	require.NoError(t, artifact.Verify(got, task.Digest))

	noDigest := task
	noDigest.Digest = ""
	got, ok = m.Satisfied(ctx, noDigest)
	require.True(t, ok)
	assert.Equal(t, m.Destination(task), got)

	noDigest.FileName = "actions-runner-osx-arm64-2.329.0.tar.gz"
	_, ok = m.Satisfied(ctx, noDigest)
	assert.False(t, ok, "without a digest only the task's own file counts")
}
