// Package layout builds the deterministic directory tree under a home
// root, as named bit-stable in the spec's external interfaces section:
//
//	H/boxlite.lock
//	H/db/boxlite.db
//	H/images/...
//	H/tmp/...
//	H/boxes/<id>/{sockets,mounts,shared,root.qcow2,containers/<cid>/...}
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
)

// Home is the root of a boxlite home directory.
type Home struct {
	Root string
}

// NewHome validates that root is an absolute path and returns a Home
// rooted there. It does not touch the filesystem.
func NewHome(root string) (Home, error) {
	const op = "layout.NewHome"
	if !filepath.IsAbs(root) {
		return Home{}, boxerr.InvalidArgumentf(op, "home path %q must be absolute", root)
	}
	return Home{Root: root}, nil
}

func (h Home) LockPath() string   { return filepath.Join(h.Root, "boxlite.lock") }
func (h Home) DBPath() string     { return filepath.Join(h.Root, "db", "boxlite.db") }
func (h Home) ImagesDir() string  { return filepath.Join(h.Root, "images") }
func (h Home) TmpDir() string     { return filepath.Join(h.Root, "tmp") }
func (h Home) BoxesDir() string   { return filepath.Join(h.Root, "boxes") }
func (h Home) BoxDir(id boxid.ID) string {
	return filepath.Join(h.BoxesDir(), string(id))
}

// Prepare creates every directory this Home's top-level tree needs. Box
// subtrees are created lazily by BoxLayout(id, isolateMounts).Prepare.
func (h Home) Prepare() error {
	const op = "layout.Prepare"
	for _, dir := range []string{h.Root, filepath.Dir(h.DBPath()), h.ImagesDir(), h.TmpDir(), h.BoxesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return boxerr.Storage(op, fmt.Errorf("create %s: %w", dir, err))
		}
	}
	return nil
}

// Box is the per-box view of the filesystem layout.
type Box struct {
	ID            boxid.ID
	Home          string
	IsolateMounts bool
}

// BoxLayout returns the per-box view for id under this Home.
func (h Home) BoxLayout(id boxid.ID, isolateMounts bool) Box {
	return Box{ID: id, Home: h.BoxDir(id), IsolateMounts: isolateMounts}
}

func (b Box) SocketsDir() string    { return filepath.Join(b.Home, "sockets") }
func (b Box) ReadySocket() string   { return filepath.Join(b.SocketsDir(), "ready.sock") }
func (b Box) MountsDir() string     { return filepath.Join(b.Home, "mounts") }
func (b Box) SharedDir() string     { return filepath.Join(b.Home, "shared") }
func (b Box) RootDiskPath() string  { return filepath.Join(b.Home, "root.qcow2") }
func (b Box) ContainersDir() string { return filepath.Join(b.Home, "containers") }
func (b Box) ContainerDir(containerID string) string {
	return filepath.Join(b.ContainersDir(), containerID)
}

// Prepare materializes this box's directory tree.
func (b Box) Prepare() error {
	const op = "layout.Box.Prepare"
	dirs := []string{b.Home, b.SocketsDir(), b.MountsDir(), b.ContainersDir()}
	if b.IsolateMounts {
		dirs = append(dirs, b.SharedDir())
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return boxerr.Storage(op, fmt.Errorf("create %s: %w", dir, err))
		}
	}
	return nil
}

// Cleanup removes this box's entire subtree. Best-effort by contract of
// the cleanup guard; callers decide whether to escalate the error.
func (b Box) Cleanup() error {
	const op = "layout.Box.Cleanup"
	if err := os.RemoveAll(b.Home); err != nil {
		return boxerr.Storage(op, err)
	}
	return nil
}
