// Package reaper runs the manager's two background cleanup passes: the
// periodic idle-session scan, and the startup orphan reconciliation
// between live containers and the session registry.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/p-arndt/sandkasten/internal/docker"
	"github.com/p-arndt/sandkasten/internal/registry"
	"github.com/p-arndt/sandkasten/internal/session"
)

// SessionManager is the slice of *session.Manager the reaper needs —
// narrowed so tests can drive the idle-reap timing logic against a fake
// registry/destroy pair without a live container runtime.
type SessionManager interface {
	Registry() *registry.Registry
	Destroy(ctx context.Context, sessionID string) (bool, error)
	List() []session.Info
	Docker() *docker.Client
}

// Reaper periodically destroys idle sessions and, once at startup,
// reconciles the registry against whatever containers are actually
// running.
type Reaper struct {
	manager  SessionManager
	interval time.Duration
	idleTTL  time.Duration
	logger   *slog.Logger
}

// New builds a Reaper. interval is clamped to at least 30s and idleTTL
// to at least 1s, per the documented scan-period and TTL floors.
func New(manager SessionManager, interval, idleTTL time.Duration, logger *slog.Logger) *Reaper {
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	if idleTTL < time.Second {
		idleTTL = time.Second
	}
	return &Reaper{manager: manager, interval: interval, idleTTL: idleTTL, logger: logger}
}

// Run reconciles orphans once, then reaps idle sessions every interval
// until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval, "idle_ttl", r.idleTTL)

	r.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.reapIdle(ctx)
		}
	}
}

// reapIdle destroys every session whose last-used timestamp is older
// than idleTTL, oldest first, so a burst of expirations doesn't starve
// the longest-idle session behind newer ones.
func (r *Reaper) reapIdle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.idleTTL)
	stale := r.manager.Registry().StaleBefore(cutoff)

	for _, id := range stale {
		destroyed, err := r.manager.Destroy(ctx, id)
		if err != nil {
			r.logger.Error("reaper: destroy idle session", "session_id", id, "error", err)
			continue
		}
		if destroyed {
			r.logger.Info("reaper: reaped idle session", "session_id", id)
		}
	}
}

// Reconcile enumerates every container carrying the manager's marker
// label, running or stopped, and removes any with no matching registry
// entry; it also drops registry entries that have no matching container.
// A stopped container still counts as a match, so its registry entry is
// kept. Run calls it once, before the first idle scan.
func (r *Reaper) Reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")

	containers, err := r.manager.Docker().ListSandboxContainers(ctx)
	if err != nil {
		r.logger.Error("reconcile: list containers", "error", err)
		return
	}

	live := make(map[string]bool, len(containers))
	for _, c := range containers {
		live[c.SessionID] = true
	}

	for _, info := range r.manager.List() {
		if !live[info.SessionID] {
			r.logger.Warn("reconcile: registry entry has no live container, dropping", "session_id", info.SessionID)
			r.manager.Registry().Delete(info.SessionID)
		}
	}

	registered := make(map[string]bool)
	for _, info := range r.manager.List() {
		registered[info.SessionID] = true
	}
	for _, c := range containers {
		if !registered[c.SessionID] {
			r.logger.Warn("reconcile: orphaned container with no registry entry, destroying", "session_id", c.SessionID, "container", c.ContainerID)
			if err := r.manager.Docker().RemoveContainer(ctx, c.ContainerID); err != nil {
				r.logger.Error("reconcile: remove orphan", "container", c.ContainerID, "error", err)
			}
		}
	}

	r.logger.Info("reconciliation complete")
}
