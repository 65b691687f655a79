// Package disk manages box rootfs disk images: base images pulled from
// a registry layer cache, and per-box copy-on-write overlays created
// from them so a box's writes never touch the shared base.
package disk

import (
	"os"
	"runtime"
	"sync"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxlog"
)

// Format names the on-disk image format.
type Format string

const (
	FormatRaw   Format = "raw"
	FormatQcow2 Format = "qcow2"
)

// Disk is a handle to a disk image file. Non-persistent disks are
// removed when Close runs (directly, or via the finalizer as a
// last-resort backstop); persistent disks, like a box's COW overlay
// that must survive stop/restart, are left on disk until the box
// itself is removed.
type Disk struct {
	mu         sync.Mutex
	Path       string
	Format     Format
	Persistent bool
	closed     bool
}

// New wraps an existing or freshly created disk file at path.
func New(path string, format Format, persistent bool) *Disk {
	d := &Disk{Path: path, Format: format, Persistent: persistent}
	if !persistent {
		runtime.SetFinalizer(d, func(d *Disk) { _ = d.Close() })
	}
	return d
}

// Leak marks the disk persistent, cancelling the finalizer cleanup.
// Mirrors the original's Disk::leak used once a freshly created COW
// overlay is committed to a box's state.
func (d *Disk) Leak() *Disk {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Persistent {
		d.Persistent = true
		runtime.SetFinalizer(d, nil)
	}
	return d
}

// Close removes the backing file if the disk is not persistent. Safe to
// call more than once.
func (d *Disk) Close() error {
	const op = "disk.Close"
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.Persistent {
		return nil
	}
	d.closed = true
	if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
		return boxerr.Storagef(op, "remove disk %s: %v", d.Path, err)
	}
	boxlog.WithComponent("disk").Debug().Str("path", d.Path).Msg("removed non-persistent disk")
	return nil
}
