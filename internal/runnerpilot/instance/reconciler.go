package instance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/audit"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/runtime"
)

// DefaultReconcileInterval is how often Run polls the runtime.
const DefaultReconcileInterval = 30 * time.Second

// Drift summarizes one reconciliation pass. Entries are runner names.
type Drift struct {
	// Missing records had a container ID but no container exists.
	Missing []string
	// Adopted records now point at a running container with another ID.
	Adopted []string
	// Exited records whose container left the running state since the
	// previous pass.
	Exited []string
	// Orphans are managed containers with no record.
	Orphans []string
}

// Reconciler periodically syncs container IDs in the instance table with
// the runtime and reports runners that stopped unexpectedly.
type Reconciler struct {
	o        *Orchestrator
	interval time.Duration
	// last holds the state seen for each runner on the previous pass so
	// an exited runner is reported once.
	last map[string]runtime.ContainerState
}

// NewReconciler returns a Reconciler over o. A non-positive interval uses
// DefaultReconcileInterval.
func NewReconciler(o *Orchestrator, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{o: o, interval: interval, last: map[string]runtime.ContainerState{}}
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("reconciler: starting", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler: stopping")
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				slog.Warn("reconciler: pass failed", "err", err)
			}
		}
	}
}

// Reconcile runs a single pass.
func (r *Reconciler) Reconcile(ctx context.Context) (Drift, error) {
	var d Drift

	rows, err := r.o.store.ListInstances(ctx)
	if err != nil {
		return d, fmt.Errorf("list instances: %w", err)
	}
	containers, err := r.o.rt.List(ctx)
	if err != nil {
		return d, fmt.Errorf("list containers: %w", err)
	}

	byName := make(map[string]runtime.ContainerInfo, len(containers))
	for _, c := range containers {
		byName[c.Name] = c
	}

	seen := make(map[string]runtime.ContainerState, len(rows))
	for _, row := range rows {
		name := row.RunnerName
		c, found := byName[name]
		delete(byName, name)

		unlock := r.o.lock(row.ID)
		switch {
		case !found:
			if row.Hostname.Valid {
				slog.Warn("reconciler: container missing", "runner", name)
				r.setHostname(ctx, row.ID, name, "")
				r.alert(ctx, name, "container missing; expected running")
				d.Missing = append(d.Missing, name)
			}
		case c.Running():
			seen[name] = c.State
			if row.Hostname.String != c.ID {
				slog.Info("reconciler: adopting container", "runner", name, "container", c.ID)
				r.setHostname(ctx, row.ID, name, c.ID)
				d.Adopted = append(d.Adopted, name)
			}
		default:
			seen[name] = c.State
			if prev, ok := r.last[name]; ok && prev == runtime.StateRunning {
				slog.Warn("reconciler: runner exited", "runner", name, "state", c.State)
				r.alert(ctx, name, fmt.Sprintf("runner left the running state: %s", c.State))
				d.Exited = append(d.Exited, name)
			}
		}
		unlock()
	}
	r.last = seen

	for name := range byName {
		slog.Warn("reconciler: managed container has no instance record", "container", name)
		d.Orphans = append(d.Orphans, name)
	}
	return d, nil
}

func (r *Reconciler) setHostname(ctx context.Context, id, name, hostname string) {
	if err := r.o.store.SetHostname(ctx, id, hostname); err != nil {
		slog.Warn("reconciler: failed to record container", "runner", name, "err", err)
	}
}

func (r *Reconciler) alert(ctx context.Context, name, msg string) {
	r.o.notifier.Notify(ctx, audit.Event{Kind: audit.KindError, Target: name, Message: msg})
}
