// Package registry implements the in-memory box registry: a cache
// mirroring the durable store, guarded by one read-write lock, database
// first on every mutation.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxlog"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/process"
	"github.com/cuemby/boxlite/internal/store"
)

type cacheEntry struct {
	config boxtypes.Config
	state  boxtypes.State
}

// Registry is the single source of truth for box state at runtime. The
// store handle is wrapped by the same lock that guards the cache so a
// reader can never observe a cache entry whose corresponding store write
// hasn't landed yet.
type Registry struct {
	mu      sync.RWMutex
	store   store.BoxStore
	boxes   map[boxid.ID]cacheEntry
	checker process.Checker
}

// New wraps s in a fresh, empty registry, using the real OS process
// table for liveness/identity checks.
func New(s store.BoxStore) *Registry {
	return NewWithChecker(s, process.Real{})
}

// NewWithChecker is New with an injectable process.Checker, for tests
// that need deterministic liveness/identity answers instead of real
// syscalls against the process table.
func NewWithChecker(s store.BoxStore, checker process.Checker) *Registry {
	return &Registry{store: s, boxes: make(map[boxid.ID]cacheEntry), checker: checker}
}

// Register persists a brand-new box and populates the cache. Fails if
// the ID is already present.
func (r *Registry) Register(cfg boxtypes.Config, st boxtypes.State) error {
	const op = "registry.Register"
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.boxes[cfg.ID]; exists {
		return boxerr.InvalidStatef(op, "box %s already registered", cfg.ID)
	}
	if err := r.store.Save(cfg, st); err != nil {
		return err
	}
	r.boxes[cfg.ID] = cacheEntry{config: cfg, state: st}
	boxlog.WithBoxID(cfg.ID.String()).Debug().Msg("registered box")
	return nil
}

// RegisterRecovered populates the cache only, without writing to the
// store. Used exclusively during startup reconciliation, where the
// record already exists on disk.
func (r *Registry) RegisterRecovered(cfg boxtypes.Config, st boxtypes.State) error {
	const op = "registry.RegisterRecovered"
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.boxes[cfg.ID]; exists {
		return boxerr.InvalidStatef(op, "box %s already registered", cfg.ID)
	}
	r.boxes[cfg.ID] = cacheEntry{config: cfg, state: st}
	return nil
}

func (r *Registry) requireExists(op string, id boxid.ID) error {
	if _, ok := r.boxes[id]; !ok {
		return boxerr.NotFoundf(op, "box %s not found", id)
	}
	return nil
}

// UpdateStatus is database-first: the store write happens before the
// cache mutation, under the same write-lock hold.
func (r *Registry) UpdateStatus(id boxid.ID, status boxtypes.Status) error {
	const op = "registry.UpdateStatus"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireExists(op, id); err != nil {
		return err
	}
	if err := r.store.UpdateStatus(id, status); err != nil {
		return err
	}
	entry := r.boxes[id]
	entry.state.Status = status
	r.boxes[id] = entry
	return nil
}

// UpdatePID is database-first.
func (r *Registry) UpdatePID(id boxid.ID, pid *int32) error {
	const op = "registry.UpdatePID"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireExists(op, id); err != nil {
		return err
	}
	if err := r.store.UpdatePID(id, pid); err != nil {
		return err
	}
	entry := r.boxes[id]
	entry.state.PID = pid
	r.boxes[id] = entry
	return nil
}

// UpdateContainerID is database-first.
func (r *Registry) UpdateContainerID(id boxid.ID, containerID string) error {
	const op = "registry.UpdateContainerID"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireExists(op, id); err != nil {
		return err
	}
	if err := r.store.UpdateContainerID(id, containerID); err != nil {
		return err
	}
	entry := r.boxes[id]
	entry.state.ContainerID = containerID
	r.boxes[id] = entry
	return nil
}

// MarkCrashed is database-first shorthand for UpdateStatus(Crashed).
func (r *Registry) MarkCrashed(id boxid.ID) error {
	return r.UpdateStatus(id, boxtypes.StatusCrashed)
}

// Get returns the cached (Config, State) pair for id.
func (r *Registry) Get(id boxid.ID) (boxtypes.Config, boxtypes.State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.boxes[id]
	return entry.config, entry.state, ok
}

// GetInfo projects the cached record into an Info snapshot.
func (r *Registry) GetInfo(id boxid.ID) (boxtypes.Info, bool) {
	cfg, st, ok := r.Get(id)
	if !ok {
		return boxtypes.Info{}, false
	}
	return boxtypes.NewInfo(cfg, st), true
}

// GetByName linearly scans the cache for a matching name.
func (r *Registry) GetByName(name string) (boxtypes.Config, boxtypes.State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.boxes {
		if entry.config.Name == name {
			return entry.config, entry.state, true
		}
	}
	return boxtypes.Config{}, boxtypes.State{}, false
}

// List returns a snapshot of every box's Info, sorted by CreatedAt
// descending (newest first).
func (r *Registry) List() []boxtypes.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]boxtypes.Info, 0, len(r.boxes))
	for _, entry := range r.boxes {
		out = append(out, boxtypes.NewInfo(entry.config, entry.state))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Remove deletes a box from the store and the cache. Fails if the box
// is active; callers that must force removal first transition the box
// out of an active status (mark_crashed or UpdateStatus(Stopped)).
func (r *Registry) Remove(id boxid.ID) (boxtypes.Config, boxtypes.State, error) {
	const op = "registry.Remove"
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.boxes[id]
	if !ok {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.NotFoundf(op, "box %s not found", id)
	}
	if entry.state.Status.IsActive() {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.InvalidStatef(op,
			"cannot remove active box %s (status: %s)", id, entry.state.Status)
	}
	if err := r.store.Delete(id); err != nil {
		return boxtypes.Config{}, boxtypes.State{}, err
	}
	delete(r.boxes, id)
	return entry.config, entry.state, nil
}

// RefreshStates probes liveness + identity for every active box and
// flips mismatched rows to Crashed, persisting each individually and
// continuing past per-box errors.
func (r *Registry) RefreshStates() []boxid.ID {
	r.mu.Lock()
	active := make([]boxid.ID, 0)
	for id, entry := range r.boxes {
		if entry.state.Status.IsActive() {
			active = append(active, id)
		}
	}
	r.mu.Unlock()

	var crashed []boxid.ID
	for _, id := range active {
		_, st, ok := r.Get(id)
		if !ok || st.PID == nil || !r.checker.IsAlive(*st.PID) || !r.checker.IsSameProcess(*st.PID, id) {
			if err := r.MarkCrashed(id); err != nil {
				boxlog.WithBoxID(id.String()).Warn().Err(err).Msg("failed to persist crashed state during refresh")
				continue
			}
			crashed = append(crashed, id)
		}
	}
	return crashed
}

// ReconcileRecovered applies the startup-recovery liveness check to one
// freshly loaded record, before it enters the cache: PID present, alive,
// and identity matches -> left as-is; PID present but dead or identity
// mismatched (reuse), or PID absent while status is active -> Stopped
// with the PID cleared. Unlike RefreshStates (used for live background
// probing, which marks Crashed), recovery treats this as an expected,
// quiet reconciliation rather than a fault, so it mutates the store
// directly and returns the reconciled state for RegisterRecovered to
// cache. Returns changed=true if the row was altered.
func (r *Registry) ReconcileRecovered(cfg boxtypes.Config, st boxtypes.State) (reconciled boxtypes.State, changed bool, err error) {
	if !st.Status.IsActive() {
		return st, false, nil
	}
	if st.PID != nil && r.checker.IsAlive(*st.PID) && r.checker.IsSameProcess(*st.PID, cfg.ID) {
		return st, false, nil
	}
	if err := r.store.UpdateStatus(cfg.ID, boxtypes.StatusStopped); err != nil {
		return st, false, err
	}
	if err := r.store.UpdatePID(cfg.ID, nil); err != nil {
		return st, false, err
	}
	st.Status = boxtypes.StatusStopped
	st.PID = nil
	return st, true, nil
}

// LoadAllPersisted delegates to the store for full recovery scans.
func (r *Registry) LoadAllPersisted() ([]store.Record, error) {
	return r.store.ListAll()
}

// CheckAndHandleReboot compares the persisted boot epoch with current
// and, on mismatch, resets all active rows to Stopped (disks untouched).
func (r *Registry) CheckAndHandleReboot(currentEpoch string) (rebooted bool, err error) {
	const op = "registry.CheckAndHandleReboot"
	rebooted, err = r.store.CheckAndUpdateBoot(currentEpoch)
	if err != nil {
		return false, err
	}
	if !rebooted {
		return false, nil
	}
	ids, err := r.store.ResetActiveAfterReboot()
	if err != nil {
		return true, fmt.Errorf("%s: reset active boxes: %w", op, err)
	}
	for _, id := range ids {
		boxlog.WithBoxID(id.String()).Info().Msg("reset box to stopped after reboot (rootfs preserved)")
	}
	return true, nil
}
