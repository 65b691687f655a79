package boxinit

import (
	"context"
	"sync"

	"github.com/cuemby/boxlite/internal/bindmount"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxlog"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/layout"
	"github.com/cuemby/boxlite/internal/metrics"
	"github.com/cuemby/boxlite/internal/registry"
)

// CleanupGuard rolls back a box's on-disk and in-memory state if an
// init attempt fails partway through. Tasks register the artifacts
// they created as they succeed; the caller disarms the guard once the
// whole pipeline has succeeded, then calls Close as a no-op via defer.
//
// Go has no deterministic destructor, so callers MUST defer guard.Close()
// immediately after construction — there is no finalizer backstop here
// the way there is for internal/disk, because this guard's job is
// exactly the one-shot rollback path, not long-lived resource ownership.
type CleanupGuard struct {
	mu        sync.Mutex
	boxID     boxid.ID
	registry  *registry.Registry
	metrics   *metrics.RuntimeMetrics
	layout    *layout.Box
	bindMount bindmount.Handle
	handler   collab.Handler
	armed     bool
}

// NewCleanupGuard returns an armed guard for boxID.
func NewCleanupGuard(boxID boxid.ID, reg *registry.Registry, rm *metrics.RuntimeMetrics) *CleanupGuard {
	return &CleanupGuard{boxID: boxID, registry: reg, metrics: rm, armed: true}
}

// SetLayout registers the box's filesystem layout for cleanup.
func (g *CleanupGuard) SetLayout(l layout.Box) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.layout = &l
}

// SetBindMount registers a bind mount that must be unmounted before the
// layout is torn down.
func (g *CleanupGuard) SetBindMount(h bindmount.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bindMount = h
}

// SetHandler registers the spawned VMM handler for cleanup.
func (g *CleanupGuard) SetHandler(h collab.Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// TakeHandler hands ownership of the handler to the caller (the
// success path), removing it from the guard's rollback set.
func (g *CleanupGuard) TakeHandler() collab.Handler {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.handler
	g.handler = nil
	return h
}

// Disarm marks the guard successful; Close becomes a no-op.
func (g *CleanupGuard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
}

// Close runs the rollback if the guard is still armed. Safe to call
// more than once. Every error along the way is logged, never returned:
// a cleanup failure must not mask the original init error.
func (g *CleanupGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return
	}
	g.armed = false

	log := boxlog.WithBoxID(g.boxID.String())
	log.Warn().Msg("box initialization failed, rolling back")

	if g.handler != nil {
		if err := g.handler.Stop(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to stop VMM handler during cleanup")
		}
	}
	if g.bindMount != nil {
		if err := g.bindMount.Unmount(); err != nil {
			log.Warn().Err(err).Msg("failed to unmount bind mount during cleanup")
		}
	}
	if g.layout != nil {
		if err := g.layout.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("failed to clean up box directory")
		}
	}

	if g.registry != nil {
		_ = g.registry.MarkCrashed(g.boxID)
		if _, _, err := g.registry.Remove(g.boxID); err != nil {
			log.Warn().Err(err).Msg("failed to remove box from registry during cleanup")
		}
	}
	if g.metrics != nil {
		g.metrics.BoxesFailed.Add(1)
	}
}
