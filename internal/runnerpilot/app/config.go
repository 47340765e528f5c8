package app

import (
	"time"

	"github.com/0xAungkon/RunnerPilot/common/paths"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/instance"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/matrix"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/release"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
)

// Meta backends.
const (
	MetaBackendSQLite = "sqlite"
	MetaBackendRedis  = "redis"
)

// Config holds application configuration. Field tags match the optional
// YAML config file; environment variables override file values.
type Config struct {
	// VolumePath holds the database, the release cache and downloaded
	// runner archives.
	VolumePath   string `yaml:"volume_path"`
	DatabasePath string `yaml:"database_path"`
	// HTTPAddr is the API listen address. Empty disables the server.
	HTTPAddr string `yaml:"http_addr"`

	FeedURL      string        `yaml:"release_feed_url"`
	ReleaseTTL   time.Duration `yaml:"release_ttl"`
	FetchTimeout time.Duration `yaml:"release_fetch_timeout"`
	GitHubToken  string        `yaml:"github_token"`
	// Platform overrides the detected "os-arch" asset token.
	Platform string `yaml:"runner_platform"`

	RunnerImage      string        `yaml:"runner_image"`
	BaseImage        string        `yaml:"base_image"`
	DockerSocket     string        `yaml:"docker_socket"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	// ReconcileInterval is how often serve syncs instances with the
	// runtime. Negative disables the reconciler.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// MasterKey is a hex AES-256 key. When set, registration tokens are
	// encrypted at rest.
	MasterKey string `yaml:"master_key"`

	MetaBackend string `yaml:"meta_backend"`
	RedisAddr   string `yaml:"redis_addr"`

	Matrix matrix.Config `yaml:"matrix"`
	// AuditRoomID receives lifecycle notices when Matrix is configured.
	AuditRoomID string `yaml:"matrix_audit_room"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		VolumePath:        paths.DataDir(),
		HTTPAddr:          ":8080",
		FeedURL:           release.DefaultFeedURL,
		ReleaseTTL:        release.DefaultTTL,
		FetchTimeout:      release.DefaultFetchTimeout,
		RunnerImage:       runtime.DefaultRunnerImage,
		BaseImage:         runtime.DefaultBaseImage,
		DockerSocket:      runtime.DefaultSocket,
		ProgressInterval:  progress.DefaultInterval,
		ReconcileInterval: instance.DefaultReconcileInterval,
		MetaBackend:       MetaBackendSQLite,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Resolve fills paths derived from VolumePath.
func (c Config) Resolve() Config {
	if c.VolumePath == "" {
		c.VolumePath = paths.DataDir()
	}
	if c.DatabasePath == "" {
		c.DatabasePath = paths.Database(c.VolumePath)
	}
	if c.MetaBackend == "" {
		c.MetaBackend = MetaBackendSQLite
	}
	return c
}
