package disk

import (
	"os"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxlog"
)

// CreateCOWChildDisk builds a new qcow2 overlay at childPath backed by
// basePath, sized to virtualSizeBytes, and returns a non-persistent
// handle to it — the caller promotes it with Leak() once it is
// committed to a box's state, matching the original's "create then
// leak" two-step for a freshly created overlay.
func CreateCOWChildDisk(basePath string, childPath string, virtualSizeBytes uint64) (*Disk, error) {
	const op = "disk.CreateCOWChildDisk"

	if _, err := os.Stat(basePath); err != nil {
		return nil, boxerr.Storagef(op, "base disk does not exist: %s", basePath)
	}
	if err := writeCOWOverlay(childPath, basePath, virtualSizeBytes); err != nil {
		return nil, err
	}

	boxlog.WithComponent("disk").Info().
		Str("child", childPath).Str("base", basePath).
		Msg("created COW overlay disk")
	return New(childPath, FormatQcow2, false), nil
}

// CreateRawBase allocates a sparse raw disk image of the given size and
// returns a persistent handle to it. CreateExt4FromDir does not use it;
// that function allocates its image through go-diskfs.
func CreateRawBase(path string, sizeBytes uint64) (*Disk, error) {
	const op = "disk.CreateRawBase"
	f, err := os.Create(path)
	if err != nil {
		return nil, boxerr.Storagef(op, "create %s: %v", path, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(sizeBytes)); err != nil {
		return nil, boxerr.Storagef(op, "truncate %s: %v", path, err)
	}
	return New(path, FormatRaw, true), nil
}
