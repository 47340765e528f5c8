package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/0xAungkon/RunnerPilot/common/environment"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/app"
)

// envConfig names the optional YAML config file.
const envConfig = "RUNNERPILOT_CONFIG"

// LoadConfig builds the configuration in layers: built-in defaults, the YAML
// file at path (or $RUNNERPILOT_CONFIG), then environment variables. A .env
// file in the working directory is loaded into the environment first.
func LoadConfig(path string) (app.Config, error) {
	if err := environment.Load(); err != nil {
		return app.Config{}, err
	}

	c := app.DefaultConfig()
	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path != "" {
		if err := readConfigFile(path, &c); err != nil {
			return app.Config{}, err
		}
	}
	applyEnv(&c)
	return c.Resolve(), nil
}

func readConfigFile(path string, c *app.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *app.Config) {
	c.VolumePath = environment.StringOr("VOLUME_PATH", c.VolumePath)
	c.DatabasePath = environment.StringOr("DATABASE_PATH", c.DatabasePath)
	c.HTTPAddr = environment.StringOr("HTTP_ADDR", c.HTTPAddr)

	c.FeedURL = environment.StringOr("RELEASE_FEED_URL", c.FeedURL)
	c.ReleaseTTL = environment.DurationOr("RELEASE_TTL", c.ReleaseTTL)
	c.FetchTimeout = environment.DurationOr("RELEASE_FETCH_TIMEOUT", c.FetchTimeout)
	c.GitHubToken = environment.StringOr("GITHUB_TOKEN", c.GitHubToken)
	c.Platform = environment.StringOr("RUNNER_PLATFORM", c.Platform)

	c.RunnerImage = environment.StringOr("RUNNER_IMAGE", c.RunnerImage)
	c.BaseImage = environment.StringOr("BASE_IMAGE", c.BaseImage)
	c.DockerSocket = environment.StringOr("DOCKER_SOCKET", c.DockerSocket)
	c.ProgressInterval = environment.DurationOr("PROGRESS_INTERVAL", c.ProgressInterval)
	c.ReconcileInterval = environment.DurationOr("RECONCILE_INTERVAL", c.ReconcileInterval)

	c.MasterKey = environment.StringOr("RUNNERPILOT_MASTER_KEY", c.MasterKey)

	c.MetaBackend = environment.StringOr("META_BACKEND", c.MetaBackend)
	c.RedisAddr = environment.StringOr("REDIS_ADDR", c.RedisAddr)

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	c.AuditRoomID = environment.StringOr("MATRIX_AUDIT_ROOM", c.AuditRoomID)

	c.LogLevel = environment.StringOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = environment.StringOr("LOG_FORMAT", c.LogFormat)
}
