//go:build linux

package bindmount

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cuemby/boxlite/internal/boxerr"
)

type nativeHandle struct {
	mu      sync.Mutex
	target  string
	mounted bool
}

func createNative(cfg Config) (Handle, error) {
	const op = "bindmount.createNative"

	if err := unix.Mount(cfg.Source, cfg.Target, "", unix.MS_BIND, ""); err != nil {
		return nil, boxerr.Storagef(op, "bind mount %s -> %s: %v", cfg.Source, cfg.Target, err)
	}
	if err := unix.Mount("", cfg.Target, "", unix.MS_SLAVE, ""); err != nil {
		_ = unix.Unmount(cfg.Target, unix.MNT_DETACH)
		return nil, boxerr.Storagef(op, "set slave propagation on %s: %v", cfg.Target, err)
	}
	if cfg.ReadOnly {
		flags := unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY
		if err := unix.Mount("", cfg.Target, "", uintptr(flags), ""); err != nil {
			_ = unix.Unmount(cfg.Target, unix.MNT_DETACH)
			return nil, boxerr.Storagef(op, "remount %s read-only: %v", cfg.Target, err)
		}
	}

	logCreated("native", cfg)
	return &nativeHandle{target: cfg.Target, mounted: true}, nil
}

func (h *nativeHandle) Target() string { return h.target }

func (h *nativeHandle) Unmount() error {
	const op = "bindmount.nativeHandle.Unmount"
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.mounted {
		return nil
	}
	h.mounted = false
	if err := unix.Unmount(h.target, unix.MNT_DETACH); err != nil {
		return boxerr.Storagef(op, "unmount %s: %v", h.target, err)
	}
	return nil
}
