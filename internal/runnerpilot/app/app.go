// Package app wires RunnerPilot's components and serves its HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xAungkon/RunnerPilot/common/crypto"
	"github.com/0xAungkon/RunnerPilot/common/paths"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/artifact"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/audit"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/instance"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/matrix"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/prereq"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/release"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime/docker"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/setup"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/store"
)

// redisDialTimeout bounds the startup connectivity check.
const redisDialTimeout = 5 * time.Second

// App owns the long-lived resources.
type App struct {
	*Services

	config  Config
	runtime *docker.Adapter
	redis   *meta.RedisBackend
	server  *Server
}

// New opens the database, connects to the container engine and builds every
// component from cfg.
func New(ctx context.Context, cfg Config) (*App, error) {
	cfg = cfg.Resolve()

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.MasterKey != "" {
		if err := sealTokens(st, cfg.MasterKey); err != nil {
			st.Close()
			return nil, err
		}
	}

	a := &App{config: cfg}
	backend, err := a.metaBackend(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	rt, err := docker.New(cfg.DockerSocket)
	if err != nil {
		a.closeRedis()
		st.Close()
		return nil, fmt.Errorf("failed to initialize container runtime: %w", err)
	}
	a.runtime = rt
	if err := rt.Ping(ctx); err != nil {
		slog.Warn("container runtime unreachable; runner operations will fail until it is up", "err", err)
	}

	a.Services = Build(cfg, st, meta.New(backend), rt, a.notifier(ctx))

	if cfg.HTTPAddr != "" {
		a.server = NewServer(cfg.HTTPAddr, StatusSources{Instances: st, Runtime: rt})
		NewAPI(a.Services).Register(a.server)
	}
	return a, nil
}

func sealTokens(st *store.Store, rawKey string) error {
	key, err := crypto.ParseKey(rawKey)
	if err != nil {
		return fmt.Errorf("invalid RUNNERPILOT_MASTER_KEY: %w", err)
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return err
	}
	st.SetTokenSealer(sealer)
	slog.Info("registration tokens are encrypted at rest")
	return nil
}

// Build assembles the components over an open store, meta store and
// runtime.
func Build(cfg Config, st *store.Store, ms *meta.Store, rt runtime.Runtime, notifier audit.Notifier) *Services {
	cfg = cfg.Resolve()

	artifacts := artifact.New(artifact.Config{
		Dir:      paths.ReleasesDir(cfg.VolumePath),
		Interval: cfg.ProgressInterval,
	})
	releases := release.New(release.Config{
		FeedURL:      cfg.FeedURL,
		CacheFile:    paths.ReleaseCache(cfg.VolumePath),
		TTL:          cfg.ReleaseTTL,
		FetchTimeout: cfg.FetchTimeout,
		Platform:     cfg.Platform,
		Token:        cfg.GitHubToken,
	}, ms, nil)
	releases.SetInventory(artifacts)

	prereqs := prereq.New(prereq.HostProbes(rt), cfg.RunnerImage)

	return &Services{
		Store:     st,
		Meta:      ms,
		Releases:  releases,
		Artifacts: artifacts,
		Instances: instance.New(instance.Config{
			Image:       cfg.RunnerImage,
			Socket:      cfg.DockerSocket,
			LogInterval: cfg.ProgressInterval,
		}, st, rt, notifier),
		Setup: setup.New(setup.Config{
			Image:     cfg.RunnerImage,
			BaseImage: cfg.BaseImage,
			Interval:  cfg.ProgressInterval,
		}, prereqs, releases, artifacts, rt, ms, notifier),
		Prereqs:  prereqs,
		Notifier: notifier,
	}
}

func (a *App) metaBackend(ctx context.Context, st *store.Store) (meta.Backend, error) {
	switch a.config.MetaBackend {
	case MetaBackendSQLite:
		return meta.NewSQLite(st.DB()), nil
	case MetaBackendRedis:
		if a.config.RedisAddr == "" {
			return nil, errors.New("meta backend redis requires REDIS_ADDR")
		}
		rb := meta.NewRedis(a.config.RedisAddr)
		pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		defer cancel()
		if err := rb.Ping(pingCtx); err != nil {
			rb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.config.RedisAddr, err)
		}
		a.redis = rb
		slog.Info("meta store: redis", "addr", a.config.RedisAddr)
		return rb, nil
	default:
		return nil, fmt.Errorf("unknown meta backend %q", a.config.MetaBackend)
	}
}

// notifier always logs lifecycle events and also posts them to the audit
// room when Matrix is configured.
func (a *App) notifier(ctx context.Context) audit.Notifier {
	n := audit.Multi{audit.Log{}}
	if !a.config.Matrix.Enabled() || a.config.AuditRoomID == "" {
		return n
	}
	client, err := matrix.New(a.config.Matrix)
	if err != nil {
		slog.Warn("matrix audit notices disabled", "err", err)
		return n
	}
	if err := client.JoinRoom(ctx, a.config.AuditRoomID); err != nil {
		slog.Warn("could not join audit room; notices may fail", "room", a.config.AuditRoomID, "err", err)
	}
	slog.Info("matrix audit notices enabled", "room", a.config.AuditRoomID)
	return append(n, audit.NewMatrixNotifier(client, a.config.AuditRoomID))
}

// Run serves the HTTP API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return errors.New("http server disabled: HTTP_ADDR is empty")
	}
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	if a.config.ReconcileInterval >= 0 {
		go instance.NewReconciler(a.Instances, a.config.ReconcileInterval).Run(ctx)
	}
	slog.Info("RunnerPilot is running; press Ctrl+C to stop")
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Close releases every resource.
func (a *App) Close() {
	if a.server != nil {
		a.server.Stop()
	}
	if a.runtime != nil {
		if err := a.runtime.Close(); err != nil {
			slog.Warn("closing container runtime client", "err", err)
		}
	}
	a.closeRedis()
	if a.Services != nil && a.Store != nil {
		slog.Info("closing database")
		a.Store.Close()
	}
}

func (a *App) closeRedis() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis", "err", err)
		}
	}
}
