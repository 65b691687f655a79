// Package box implements the per-box handle: lazy initialization via
// ensure_ready, exec, stop, and the best-effort Drop discipline Go
// lacks natively.
package box

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxinit"
	"github.com/cuemby/boxlite/internal/boxlog"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/layout"
	"github.com/cuemby/boxlite/internal/metrics"
	"github.com/cuemby/boxlite/internal/registry"
)

// live is the set of resources that exist only once a box has actually
// been initialized (built fresh or reattached to).
type live struct {
	handler     collab.Handler
	session     collab.GuestSession
	containerID string
	boxMetrics  metrics.BoxMetrics
}

// Handle is a caller-facing reference to one box. Multiple Handles for
// the same BoxID may exist; each independently lazily initializes and
// independently tracks whether stop() ran on it.
type Handle struct {
	id         boxid.ID
	name       string
	autoRemove bool

	registry       *registry.Registry
	deps           boxinit.Deps
	home           layout.Home
	runtimeMetrics *metrics.RuntimeMetrics

	mu       sync.RWMutex
	l        *live
	shutdown atomic.Bool
}

// New builds a detached handle: no live state until an operation calls
// ensureReady. A finalizer checks for a handle collected while its box
// is still active and Stop was never called, and logs an error when it
// finds one; it does not panic. Go has no deterministic destructor, so
// the check is best-effort and GC-timing dependent, unlike a Rust Drop.
func New(cfg boxtypes.Config, reg *registry.Registry, deps boxinit.Deps, home layout.Home, rm *metrics.RuntimeMetrics) *Handle {
	h := &Handle{
		id:             cfg.ID,
		name:           cfg.Name,
		autoRemove:     cfg.Options.AutoRemove,
		registry:       reg,
		deps:           deps,
		home:           home,
		runtimeMetrics: rm,
	}
	runtime.SetFinalizer(h, finalizeHandle)
	return h
}

func finalizeHandle(h *Handle) {
	if h.shutdown.Load() {
		return
	}
	_, st, ok := h.registry.Get(h.id)
	if !ok || !st.Status.IsActive() {
		return
	}
	// A finalizer cannot safely panic the program (it runs on its own
	// goroutine outside the caller's control), so the strongest signal
	// available here is a loud log instead of the synchronous panic a
	// deterministic Drop would give.
	boxlog.WithBoxID(h.id.String()).Error().
		Msg("box handle garbage-collected while still active and without Stop() — this is a caller bug")
}

// ID returns the box's identifier.
func (h *Handle) ID() boxid.ID { return h.id }

// Name returns the box's name, empty if unnamed.
func (h *Handle) Name() string { return h.name }

// Info returns a read-only snapshot without triggering initialization.
func (h *Handle) Info() (boxtypes.Info, error) {
	const op = "box.Handle.Info"
	info, ok := h.registry.GetInfo(h.id)
	if !ok {
		return boxtypes.Info{}, boxerr.NotFoundf(op, "box %s not found", h.id)
	}
	return info, nil
}

// ensureReady is the heart of lazy initialization: fast path under a
// read lock if already live, otherwise a double-checked write-locked
// build or reattach via the init pipeline.
func (h *Handle) ensureReady(ctx context.Context) (*live, error) {
	const op = "box.Handle.ensureReady"

	h.mu.RLock()
	if h.l != nil {
		l := h.l
		h.mu.RUnlock()
		return l, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.l != nil { // lost the race to another caller
		return h.l, nil
	}

	cfg, st, ok := h.registry.Get(h.id)
	if !ok {
		return nil, boxerr.NotFoundf(op, "box %s not found", h.id)
	}
	if !st.Status.CanExec() {
		return nil, boxerr.InvalidStatef(op, "box %s cannot be initialized from status %q", h.id, st.Status)
	}

	pctx := boxinit.NewContext(cfg, st, h.deps)
	defer pctx.Guard.Close() // no-op if Run disarmed it

	if _, err := boxinit.Run(ctx, pctx, h.home); err != nil {
		return nil, err
	}

	l := &live{
		handler:     pctx.Handler,
		session:     pctx.GuestSession,
		containerID: pctx.ContainerID,
	}
	l.boxMetrics.SpawnedAt = time.Now()
	h.l = l
	return l, nil
}

// Exec runs cmd inside the box's container, initializing the box first
// if necessary. It never holds Handle's write lock for the duration of
// the guest RPC — only ensureReady's brief build step does.
func (h *Handle) Exec(ctx context.Context, cmd boxtypes.BoxCommand) (collab.ExecutionHandle, error) {
	const op = "box.Handle.Exec"
	l, err := h.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	execHandle, err := l.session.Execution().Exec(ctx, l.containerID, cmd)
	l.boxMetrics.IncrementCommandsExecuted(h.runtimeMetrics)
	if err != nil {
		l.boxMetrics.IncrementExecErrors(h.runtimeMetrics)
		return nil, boxerr.Enginef(op, "exec in box %s: %v", h.id, err)
	}
	return execHandle, nil
}

// Metrics returns the live handler's point-in-time metrics; requires
// the box to already be initialized.
func (h *Handle) Metrics() (collab.HandlerMetrics, error) {
	const op = "box.Handle.Metrics"
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.l == nil {
		return collab.HandlerMetrics{}, boxerr.InvalidStatef(op, "box %s is not initialized", h.id)
	}
	return h.l.handler.Metrics(), nil
}

// Stop gracefully shuts down the guest and VMM, persists Stopped, and
// clears the live state. Idempotent once the store shows Stopped.
func (h *Handle) Stop(ctx context.Context) error {
	const op = "box.Handle.Stop"
	h.shutdown.Store(true)

	h.mu.Lock()
	l := h.l
	h.l = nil
	h.mu.Unlock()

	_, st, ok := h.registry.Get(h.id)
	if !ok {
		return boxerr.NotFoundf(op, "box %s not found", h.id)
	}
	if !st.Status.CanStop() {
		if st.Status == boxtypes.StatusStopped {
			return nil
		}
		return boxerr.InvalidStatef(op, "cannot stop box %s in status %q", h.id, st.Status)
	}

	if l != nil {
		if l.session != nil {
			if err := l.session.Guest().Shutdown(ctx); err != nil {
				boxlog.WithBoxID(h.id.String()).Warn().Err(err).Msg("guest shutdown RPC failed, stopping VMM anyway")
			}
			_ = l.session.Close()
		}
		if l.handler != nil {
			if err := l.handler.Stop(ctx); err != nil {
				boxlog.WithBoxID(h.id.String()).Warn().Err(err).Msg("failed to stop VMM handler")
			}
		}
	}

	if err := h.registry.UpdateStatus(h.id, boxtypes.StatusStopped); err != nil {
		return err
	}
	if err := h.registry.UpdatePID(h.id, nil); err != nil {
		return err
	}

	if h.autoRemove {
		cfg, _, err := h.registry.Remove(h.id)
		if err != nil {
			boxlog.WithBoxID(h.id.String()).Warn().Err(err).Msg("auto_remove: failed to remove box after stop")
		} else if err := h.home.BoxLayout(h.id, cfg.Options.IsolateMounts).Cleanup(); err != nil {
			boxlog.WithBoxID(h.id.String()).Warn().Err(err).Msg("auto_remove: failed to remove box directory subtree")
		}
	}
	return nil
}
