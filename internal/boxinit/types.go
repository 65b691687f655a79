// Package boxinit builds and runs the table-driven initialization
// pipeline that brings a box from its persisted status to a live
// (handler, guest session, container) triple, or tears it back down on
// failure.
package boxinit

import (
	"sync"

	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/disk"
	"github.com/cuemby/boxlite/internal/layout"
	"github.com/cuemby/boxlite/internal/metrics"
	"github.com/cuemby/boxlite/internal/process"
	"github.com/cuemby/boxlite/internal/registry"
)

// RootfsStrategy describes how the guest should consume its rootfs
// once it boots.
type RootfsStrategy string

const (
	// StrategyDiskBacked means a block device is attached and mounted
	// directly by the guest. guest_rootfs_init never produces it; it
	// always reports StrategyNone.
	StrategyDiskBacked RootfsStrategy = "disk"
	// StrategyNone means the guest's rootfs is already baked into the
	// VMM/kernel image and this pipeline has nothing to prepare.
	StrategyNone RootfsStrategy = "none"
)

// FilesystemOutput is produced by the filesystem_setup task.
type FilesystemOutput struct {
	Layout layout.Box
}

// ContainerRootfsOutput is produced by container_rootfs_prep.
type ContainerRootfsOutput struct {
	Config boxtypes.OciConfig
	Disk   *disk.Disk
}

// GuestRootfsOutput is produced by guest_rootfs_init.
type GuestRootfsOutput struct {
	Disk     *disk.Disk
	Strategy RootfsStrategy
}

// Deps bundles the collaborators and shared services tasks need. The
// only implementations of the collaborator interfaces in this module
// are the in-memory ones in internal/collab/fake, which runtime.New
// also falls back to when its Options leave a collaborator nil.
type Deps struct {
	Images   collab.ImageStore
	Vmm      collab.VmmController
	Dialer   collab.GuestDialer
	Registry *registry.Registry
	Metrics  *metrics.RuntimeMetrics
	// ProcessChecker verifies a reattach target's PID liveness and
	// identity. Nil defaults to process.Real{} (the real process
	// table); tests substitute a fake to get deterministic answers.
	ProcessChecker process.Checker
}

// Context is the shared, mutex-guarded state every task in a pipeline
// run reads from and writes to. Parallel stage tasks (container and
// guest rootfs prep) both touch this value concurrently, hence the
// lock — mirrors the original's Arc<Mutex<InitPipelineContext>>.
type Context struct {
	mu sync.Mutex

	Config boxtypes.Config
	State  boxtypes.State
	Deps   Deps
	Guard  *CleanupGuard

	ReuseRootfs bool

	FS            *FilesystemOutput
	ContainerRoot *ContainerRootfsOutput
	GuestRoot     *GuestRootfsOutput

	Handler      collab.Handler
	GuestSession collab.GuestSession
	ContainerID  string
}

// NewContext builds a fresh pipeline context for one init attempt.
func NewContext(cfg boxtypes.Config, st boxtypes.State, deps Deps) *Context {
	return &Context{
		Config:      cfg,
		State:       st,
		Deps:        deps,
		ReuseRootfs: st.Status == boxtypes.StatusStopped,
		Guard:       NewCleanupGuard(cfg.ID, deps.Registry, deps.Metrics),
	}
}

func (c *Context) withLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}
