// Package instance reconciles persisted runner instances with live
// containers.
//
// The database record is the source of truth for configuration; the
// container engine is the source of truth for status, which is computed on
// every query and never stored. The runner name doubles as the container
// name.
package instance

import (
	"context"
	"errors"
	"time"

	"github.com/0xAungkon/RunnerPilot/common/redact"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/store"
)

var (
	// ErrInstanceNotFound is returned for an unknown instance ID.
	ErrInstanceNotFound = errors.New("instance: not found")

	// ErrInvalidSpec is returned when a create or clone request is malformed.
	ErrInvalidSpec = errors.New("instance: invalid request")
)

// Status is the live state of an instance.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Store is the persistence the orchestrator needs. *store.Store satisfies
// it.
type Store interface {
	CreateInstance(ctx context.Context, ri *store.RunnerInstance) error
	GetInstance(ctx context.Context, id string) (*store.RunnerInstance, error)
	ListInstances(ctx context.Context) ([]*store.RunnerInstance, error)
	SetHostname(ctx context.Context, id, hostname string) error
	DeleteInstance(ctx context.Context, id string) error
}

// Spec is a create request.
type Spec struct {
	// Name is an optional base for the runner name; a random suffix is
	// always appended.
	Name              string `json:"name,omitempty"`
	SourceURL         string `json:"source_url"`
	RegistrationToken string `json:"registration_token"`
	Labels            string `json:"labels,omitempty"`
}

// View is an instance as returned to callers. The registration token is
// masked.
type View struct {
	ID                string    `json:"id"`
	RunnerName        string    `json:"runner_name"`
	SourceURL         string    `json:"source_url"`
	RegistrationToken string    `json:"registration_token"`
	Labels            *string   `json:"labels"`
	Hostname          *string   `json:"hostname"`
	CreatedAt         time.Time `json:"created_at"`
	Status            Status    `json:"status"`
	// LaunchError is set when the record was saved but the container could
	// not be started.
	LaunchError string `json:"launch_error,omitempty"`
}

func newView(ri *store.RunnerInstance, status Status) View {
	v := View{
		ID:                ri.ID,
		RunnerName:        ri.RunnerName,
		SourceURL:         ri.SourceURL,
		RegistrationToken: redact.Mask(ri.RegistrationToken),
		CreatedAt:         ri.CreatedAt,
		Status:            status,
	}
	if ri.Labels.Valid {
		s := ri.Labels.String
		v.Labels = &s
	}
	if ri.Hostname.Valid {
		s := ri.Hostname.String
		v.Hostname = &s
	}
	return v
}

// CloneFailure is one clone that did not come up.
type CloneFailure struct {
	RunnerName string `json:"runner_name,omitempty"`
	Error      string `json:"error"`
}

// CloneResult reports clones individually; a partial failure is not an
// error of the whole operation.
type CloneResult struct {
	Created []View         `json:"created"`
	Failed  []CloneFailure `json:"failed"`
}
