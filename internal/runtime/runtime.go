// Package runtime wires every collaborator into the public-facing
// boxlite runtime façade: home layout, the durable store, the in-memory
// registry, metrics, and startup recovery.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxinit"
	"github.com/cuemby/boxlite/internal/boxlog"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/box"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/collab/fake"
	"github.com/cuemby/boxlite/internal/homelock"
	"github.com/cuemby/boxlite/internal/layout"
	"github.com/cuemby/boxlite/internal/metrics"
	"github.com/cuemby/boxlite/internal/process"
	"github.com/cuemby/boxlite/internal/registry"
	"github.com/cuemby/boxlite/internal/store"
)

// Options configures a Runtime at construction time. Images, Vmm, and
// Dialer default to the package's in-memory fakes when left nil — no
// real OCI puller or VMM binary is wired into this core (see
// internal/collab's doc comment); callers embedding a real backend
// supply their own implementation here.
type Options struct {
	Home   string
	Images collab.ImageStore
	Vmm    collab.VmmController
	Dialer collab.GuestDialer
}

// Runtime is the process-wide façade: one per boxlite home directory,
// holding the exclusive home lock for its lifetime.
type Runtime struct {
	home  layout.Home
	lock  *homelock.Lock
	store store.BoxStore
	reg   *registry.Registry
	rm    *metrics.RuntimeMetrics
	deps  boxinit.Deps
}

// New opens (or initializes) the home directory at opts.Home, acquires
// the exclusive home lock, opens the metadata store, and runs startup
// recovery before returning a ready façade.
func New(opts Options) (*Runtime, error) {
	const op = "runtime.New"

	home, err := layout.NewHome(opts.Home)
	if err != nil {
		return nil, err
	}
	if err := home.Prepare(); err != nil {
		return nil, err
	}

	lock, err := homelock.Acquire(home.LockPath())
	if err != nil {
		return nil, err
	}

	st, err := store.Open(home.DBPath())
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	reg := registry.New(st)
	rm := &metrics.RuntimeMetrics{}

	images := opts.Images
	if images == nil {
		images = fake.NewImageStore()
	}
	vmm := opts.Vmm
	if vmm == nil {
		vmm = fake.NewVmmController()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = fake.NewGuestDialer()
	}

	rt := &Runtime{
		home:  home,
		lock:  lock,
		store: st,
		reg:   reg,
		rm:    rm,
		deps: boxinit.Deps{
			Images:   images,
			Vmm:      vmm,
			Dialer:   dialer,
			Registry: reg,
			Metrics:  rm,
		},
	}

	if err := rt.recover(context.Background()); err != nil {
		_ = st.Close()
		_ = lock.Release()
		return nil, boxerr.Storagef(op, "startup recovery: %v", err)
	}
	return rt, nil
}

// recover implements spec §4.11: open the lock (already held by New),
// detect a host reboot and reset active rows, then reload every
// persisted record, reconciling any with a dead or reused PID to
// Stopped before it enters the registry cache.
func (rt *Runtime) recover(ctx context.Context) error {
	epoch, err := currentBootEpoch()
	if err != nil {
		boxlog.WithComponent("runtime").Warn().Err(err).Msg("failed to read boot epoch, skipping reboot detection")
	} else {
		rebooted, err := rt.reg.CheckAndHandleReboot(epoch)
		if err != nil {
			return fmt.Errorf("check boot epoch: %w", err)
		}
		if rebooted {
			boxlog.WithComponent("runtime").Info().Msg("host reboot detected, active boxes reset to stopped")
		}
	}

	records, err := rt.reg.LoadAllPersisted()
	if err != nil {
		return fmt.Errorf("load persisted boxes: %w", err)
	}
	for _, rec := range records {
		st, changed, err := rt.reg.ReconcileRecovered(rec.Config, rec.State)
		if err != nil {
			boxlog.WithBoxID(rec.Config.ID.String()).Warn().Err(err).Msg("failed to reconcile recovered box state")
			st = rec.State
		}
		if changed {
			boxlog.WithBoxID(rec.Config.ID.String()).Warn().Msg("pid absent, dead, or reused on recovery; box marked stopped")
		}
		if err := rt.reg.RegisterRecovered(rec.Config, st); err != nil {
			boxlog.WithBoxID(rec.Config.ID.String()).Warn().Err(err).Msg("failed to register recovered box")
		}
	}
	return nil
}

// RefreshStates probes every active box's VMM liveness and identity and
// flips any that are gone or reused to Crashed. This is a live
// background-probe primitive (spec §4.2/§4.10), distinct from the
// quieter reconciliation recover performs at startup; callers may invoke
// it periodically to catch a VMM that died between probes.
func (rt *Runtime) RefreshStates() []string {
	ids := rt.reg.RefreshStates()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		boxlog.WithBoxID(id.String()).Warn().Msg("box's VMM process is gone or was reused by another process, marked crashed")
		out = append(out, id.String())
	}
	return out
}

// Create registers a brand-new box and returns a detached Handle. The
// box is not initialized (no VMM spawned) until the caller's first
// Exec or other operation that calls ensureReady.
func (rt *Runtime) Create(name string, opts boxtypes.Options) (*box.Handle, error) {
	const op = "runtime.Create"

	if name != "" {
		if _, _, ok := rt.reg.GetByName(name); ok {
			return nil, boxerr.InvalidArgumentf(op, "a box named %q already exists", name)
		}
	}

	id := boxid.New()
	cfg := boxtypes.Config{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		Options:   opts,
		Transport: boxtypes.UnixTransport(rt.home.BoxLayout(id, opts.IsolateMounts).ReadySocket()),
	}

	st := boxtypes.State{Status: boxtypes.StatusStarting, UpdatedAt: time.Now()}
	if err := rt.reg.Register(cfg, st); err != nil {
		return nil, err
	}
	rt.rm.BoxesCreated.Add(1)

	return box.New(cfg, rt.reg, rt.deps, rt.home, rt.rm), nil
}

// Get returns a Handle for an existing box by ID or name, without
// triggering initialization.
func (rt *Runtime) Get(idOrName string) (*box.Handle, error) {
	const op = "runtime.Get"

	cfg, _, ok := rt.reg.Get(boxid.ID(idOrName))
	if !ok {
		cfg, _, ok = rt.reg.GetByName(idOrName)
	}
	if !ok {
		return nil, boxerr.NotFoundf(op, "no box matches %q", idOrName)
	}
	return box.New(cfg, rt.reg, rt.deps, rt.home, rt.rm), nil
}

// Exists reports whether idOrName resolves to a registered box.
func (rt *Runtime) Exists(idOrName string) bool {
	if _, _, ok := rt.reg.Get(boxid.ID(idOrName)); ok {
		return true
	}
	_, _, ok := rt.reg.GetByName(idOrName)
	return ok
}

// GetInfo returns a read-only snapshot for one box by ID or name.
func (rt *Runtime) GetInfo(idOrName string) (boxtypes.Info, error) {
	const op = "runtime.GetInfo"
	if info, ok := rt.reg.GetInfo(boxid.ID(idOrName)); ok {
		return info, nil
	}
	if cfg, st, ok := rt.reg.GetByName(idOrName); ok {
		return boxtypes.NewInfo(cfg, st), nil
	}
	return boxtypes.Info{}, boxerr.NotFoundf(op, "no box matches %q", idOrName)
}

// ListInfo returns every box's Info, newest first.
func (rt *Runtime) ListInfo() []boxtypes.Info {
	return rt.reg.List()
}

// Remove deletes a box's store row and on-disk subtree. If the box is
// active and force is false, Remove fails; if force is true, the VMM is
// killed and the box transitioned to Stopped first.
func (rt *Runtime) Remove(ctx context.Context, idOrName string, force bool) error {
	const op = "runtime.Remove"

	cfg, st, ok := rt.reg.Get(boxid.ID(idOrName))
	if !ok {
		cfg, st, ok = rt.reg.GetByName(idOrName)
	}
	if !ok {
		return boxerr.NotFoundf(op, "no box matches %q", idOrName)
	}

	if st.Status.IsActive() {
		if !force {
			return boxerr.InvalidStatef(op, "box %s is active; stop it first or pass force", cfg.ID)
		}
		if st.PID != nil {
			process.Kill(*st.PID)
		}
		if err := rt.reg.UpdateStatus(cfg.ID, boxtypes.StatusStopped); err != nil {
			return err
		}
		if err := rt.reg.UpdatePID(cfg.ID, nil); err != nil {
			return err
		}
	}

	if _, _, err := rt.reg.Remove(cfg.ID); err != nil {
		return err
	}
	rt.rm.BoxesRemoved.Add(1)

	if err := rt.home.BoxLayout(cfg.ID, cfg.Options.IsolateMounts).Cleanup(); err != nil {
		boxlog.WithBoxID(cfg.ID.String()).Warn().Err(err).Msg("failed to remove box directory subtree after store row delete")
	}
	return nil
}

// Metrics returns a point-in-time snapshot of runtime-wide counters.
func (rt *Runtime) Metrics() metrics.RuntimeSnapshot {
	return rt.rm.Snapshot()
}

// Close releases the home lock and closes the metadata store. Callers
// should stop every outstanding Handle before calling Close.
func (rt *Runtime) Close() error {
	const op = "runtime.Close"
	var errs []error
	if err := rt.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return boxerr.Storagef(op, "close runtime: %v", errs)
	}
	return nil
}
