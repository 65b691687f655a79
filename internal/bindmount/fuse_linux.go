//go:build linux

package bindmount

import (
	"sync"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cuemby/boxlite/internal/boxerr"
)

type fuseHandle struct {
	mu      sync.Mutex
	target  string
	server  *fuse.Server
	mounted bool
}

func createFuse(cfg Config) (Handle, error) {
	const op = "bindmount.createFuse"

	root, err := fs.NewLoopbackRoot(cfg.Source)
	if err != nil {
		return nil, boxerr.Storagef(op, "build passthrough root for %s: %v", cfg.Source, err)
	}

	opts := &fs.Options{}
	opts.AllowOther = false
	if cfg.ReadOnly {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "ro")
	}

	server, err := fs.Mount(cfg.Target, root, opts)
	if err != nil {
		return nil, boxerr.Storagef(op, "mount FUSE passthrough at %s: %v", cfg.Target, err)
	}
	go server.Serve()

	logCreated("fuse", cfg)
	return &fuseHandle{target: cfg.Target, server: server, mounted: true}, nil
}

func (h *fuseHandle) Target() string { return h.target }

func (h *fuseHandle) Unmount() error {
	const op = "bindmount.fuseHandle.Unmount"
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.mounted {
		return nil
	}
	h.mounted = false
	if err := h.server.Unmount(); err != nil {
		return boxerr.Storagef(op, "unmount FUSE passthrough at %s: %v", h.target, err)
	}
	return nil
}
