package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/0xAungkon/RunnerPilot/common/version"
)

// shutdownGrace bounds how long Stop waits for in-flight requests.
const shutdownGrace = 5 * time.Second

// StatusSources feed GET /status. A nil source is reported as zero or
// unknown rather than failing the request.
type StatusSources struct {
	Instances interface {
		CountInstances(ctx context.Context) (int, error)
	}
	Runtime interface {
		Ping(ctx context.Context) error
	}
}

// Server is the runnerpilot HTTP listener: liveness on /health, a host
// summary on /status, and the API routes mounted through Handle.
type Server struct {
	addr    string
	mux     *http.ServeMux
	sources StatusSources
	started time.Time

	mu    sync.Mutex
	srv   *http.Server
	bound net.Addr
}

type liveness struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type hostStatus struct {
	liveness
	BuildTime     string    `json:"build_time"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSecs    float64   `json:"uptime_seconds"`
	InstanceCount int       `json:"instance_count"`
	Runtime       string    `json:"runtime"`
	RuntimeError  string    `json:"runtime_error,omitempty"`
}

// NewServer builds a server for addr. Nothing listens until Start.
func NewServer(addr string, sources StatusSources) *Server {
	s := &Server{
		addr:    addr,
		mux:     http.NewServeMux(),
		sources: sources,
		started: time.Now(),
	}
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("GET /status", s.status)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handle mounts an extra route. Routes must be added before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Addr is the bound listener address once Start has returned, else the
// configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		return s.bound.String()
	}
	return s.addr
}

// Start opens the listener and serves in the background until ctx ends or
// Stop is called. Request contexts derive from ctx so streaming handlers
// stop with the service.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}

	// Setup, downloads and log tails stream for minutes, so there is no
	// WriteTimeout.
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.srv, s.bound = srv, ln.Addr()
	s.mu.Unlock()

	go func() {
		slog.Info("http server: listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server: serve failed", "err", err)
		}
	}()
	context.AfterFunc(ctx, s.Stop)
	return nil
}

// Stop shuts the listener down. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("http server: shutdown", "err", err)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, current("ok"))
}

// status never fails: an unreachable engine shows up as runtime "down".
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	out := hostStatus{
		liveness:   current("ok"),
		BuildTime:  version.BuildTime,
		StartedAt:  s.started,
		UptimeSecs: time.Since(s.started).Seconds(),
		Runtime:    "unknown",
	}
	if src := s.sources.Instances; src != nil {
		if n, err := src.CountInstances(r.Context()); err == nil {
			out.InstanceCount = n
		} else {
			slog.Debug("http server: count instances", "err", err)
		}
	}
	if rt := s.sources.Runtime; rt != nil {
		if err := rt.Ping(r.Context()); err != nil {
			out.Runtime, out.RuntimeError = "down", err.Error()
		} else {
			out.Runtime = "up"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func current(status string) liveness {
	return liveness{Status: status, Version: version.Version, Commit: version.GitCommit}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http server: encode response", "err", err)
	}
}
