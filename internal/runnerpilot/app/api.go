package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/0xAungkon/RunnerPilot/common/trace"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/instance"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/progress"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// RouteRegistrar is satisfied by *Server and *http.ServeMux.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// API serves the JSON and NDJSON endpoints.
type API struct {
	svc *Services
}

// NewAPI returns an API over svc.
func NewAPI(svc *Services) *API {
	return &API{svc: svc}
}

// Register mounts every route on r.
func (a *API) Register(r RouteRegistrar) {
	routes := map[string]http.HandlerFunc{
		"GET /api/prerequisites": a.prerequisites,
		"GET /api/setup":         a.setupStatus,
		"POST /api/setup":        a.runSetup,

		"GET /api/releases":              a.listReleases,
		"POST /api/releases/refresh":     a.refreshReleases,
		"POST /api/releases/pull":        a.pullRelease,
		"DELETE /api/releases/{version}": a.deleteRelease,

		"GET /api/instances":               a.listInstances,
		"POST /api/instances":              a.createInstance,
		"GET /api/instances/{id}":          a.getInstance,
		"DELETE /api/instances/{id}":       a.deleteInstance,
		"GET /api/instances/{id}/status":   a.instanceStatus,
		"POST /api/instances/{id}/start":   a.startInstance,
		"POST /api/instances/{id}/stop":    a.stopInstance,
		"POST /api/instances/{id}/restart": a.restartInstance,
		"POST /api/instances/{id}/clone":   a.cloneInstance,
		"GET /api/instances/{id}/logs":     a.instanceLogs,

		"GET /api/meta":       a.listMeta,
		"GET /api/meta/{key}": a.getMeta,
		"PUT /api/meta/{key}": a.setMeta,
	}
	for pattern, h := range routes {
		r.Handle(pattern, withTrace(h))
	}
}

// withTrace tags each request context with a trace ID, honouring an
// inbound X-Trace-ID header.
func withTrace(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Trace-ID"); id != "" {
			ctx = trace.WithTraceID(ctx, id)
		} else {
			ctx = trace.Ensure(ctx)
		}
		w.Header().Set("X-Trace-ID", trace.FromContext(ctx))
		h(w, r.WithContext(ctx))
	})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return fmt.Errorf("%w: %v", errInvalidRequest, err)
}

func serveStream(w http.ResponseWriter, r *http.Request, s *progress.Stream) {
	if err := progress.ServeNDJSON(w, s); err != nil {
		slog.Debug("http: stream consumer went away", "path", r.URL.Path, "err", err)
	}
}

func (a *API) prerequisites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Prereqs.Check(r.Context()))
}

func (a *API) setupStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := a.svc.IsSetup(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_setup": ok})
}

func (a *API) runSetup(w http.ResponseWriter, r *http.Request) {
	serveStream(w, r, a.svc.Setup.Run(r.Context()))
}

func (a *API) listReleases(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.Releases.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) refreshReleases(w http.ResponseWriter, r *http.Request) {
	if _, err := a.svc.Releases.Refresh(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	a.listReleases(w, r)
}

type pullRequest struct {
	Version string `json:"version"`
}

func (a *API) pullRelease(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := a.svc.PullRelease(r.Context(), req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveStream(w, r, s)
}

func (a *API) deleteRelease(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")
	deleted, err := a.svc.DeleteRelease(r.Context(), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "deleted": deleted})
}

func (a *API) listInstances(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.Instances.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) createInstance(w http.ResponseWriter, r *http.Request) {
	var spec instance.Spec
	if err := decodeJSON(w, r, &spec); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := a.svc.Instances.Create(r.Context(), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) getInstance(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Instances.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) deleteInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.svc.Instances.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (a *API) instanceStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := a.svc.Instances.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": st})
}

func (a *API) startInstance(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Instances.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) stopInstance(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Instances.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) restartInstance(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Instances.Restart(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type cloneRequest struct {
	Count             int    `json:"count"`
	RegistrationToken string `json:"registration_token"`
}

func (a *API) cloneInstance(w http.ResponseWriter, r *http.Request) {
	req := cloneRequest{Count: 1}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.svc.Instances.Clone(r.Context(), r.PathValue("id"), req.Count, req.RegistrationToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) instanceLogs(w http.ResponseWriter, r *http.Request) {
	follow := true
	if v := r.URL.Query().Get("follow"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: follow must be a boolean", errInvalidRequest))
			return
		}
		follow = b
	}
	s, err := a.svc.Instances.StreamLogs(r.Context(), r.PathValue("id"), follow)
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveStream(w, r, s)
}

func (a *API) listMeta(w http.ResponseWriter, r *http.Request) {
	vals, err := a.svc.Meta.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vals)
}

func (a *API) getMeta(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Meta.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type setMetaRequest struct {
	Value any    `json:"meta_value"`
	Type  string `json:"meta_type"`
}

func (a *API) setMeta(w http.ResponseWriter, r *http.Request) {
	req := setMetaRequest{Type: string(meta.TypeString)}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := meta.ParseType(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := a.svc.Meta.Set(r.Context(), r.PathValue("key"), req.Value, t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
