package app

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/artifact"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/instance"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/release"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/store"
)

// Machine-readable failure reasons.
const (
	ReasonInstanceNotFound    = "instance_not_found"
	ReasonAlreadyDownloaded   = "already_downloaded"
	ReasonVersionNotFound     = "version_not_found"
	ReasonNoAsset             = "asset_not_found"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonRuntimeUnavailable  = "runtime_unavailable"
	ReasonInvalidRequest      = "invalid_request"
	ReasonMetaNotFound        = "meta_not_found"
	ReasonNameConflict        = "name_conflict"
	ReasonInternal            = "internal_error"
)

// retryAfterSeconds is suggested to clients when the release feed is down.
const retryAfterSeconds = "30"

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// errInvalidRequest marks malformed request bodies and parameters.
var errInvalidRequest = errors.New("invalid request")

// Classify maps an error to an HTTP status and a reason string.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, instance.ErrInstanceNotFound):
		return http.StatusNotFound, ReasonInstanceNotFound
	case errors.Is(err, artifact.ErrAlreadyDownloaded):
		return http.StatusConflict, ReasonAlreadyDownloaded
	case errors.Is(err, release.ErrVersionNotFound):
		return http.StatusNotFound, ReasonVersionNotFound
	case errors.Is(err, release.ErrNoAsset):
		return http.StatusNotFound, ReasonNoAsset
	case errors.Is(err, release.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, ReasonUpstreamUnavailable
	case errors.Is(err, runtime.ErrUnavailable):
		return http.StatusServiceUnavailable, ReasonRuntimeUnavailable
	case errors.Is(err, meta.ErrNotFound):
		return http.StatusNotFound, ReasonMetaNotFound
	case errors.Is(err, store.ErrDuplicateName):
		return http.StatusConflict, ReasonNameConflict
	case errors.Is(err, instance.ErrInvalidSpec),
		errors.Is(err, meta.ErrInvalidType),
		errors.Is(err, meta.ErrInvalidValue),
		errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, ReasonInvalidRequest
	default:
		return http.StatusInternalServerError, ReasonInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, reason := Classify(err)
	if code >= http.StatusInternalServerError {
		slog.Error("http: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	if reason == ReasonUpstreamUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Reason: reason})
}
