// Package bindmount exposes a single host directory inside a box's
// shared/ tree, picking between a privileged native mount(2) and a
// rootless FUSE passthrough depending on the caller's capabilities.
package bindmount

import (
	"os"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxlog"
)

// Handle is a live bind mount. Unmount is idempotent; callers that never
// call it explicitly leak the mount until process exit, same as the
// teacher's other OS-resource handles.
type Handle interface {
	Target() string
	Unmount() error
}

// Create validates cfg and mounts it using whichever strategy the
// current process can use. A missing source is a Storage error on every
// platform; past that check, non-Linux platforms return an Unsupported
// error.
func Create(cfg Config) (Handle, error) {
	const op = "bindmount.Create"
	if _, err := os.Stat(cfg.Source); err != nil {
		return nil, boxerr.Storagef(op, "bind mount source does not exist: %s", cfg.Source)
	}
	return create(cfg)
}

func ensureTargetDir(path string) error {
	const op = "bindmount.ensureTargetDir"
	if err := os.MkdirAll(path, 0o755); err != nil {
		return boxerr.Storagef(op, "create bind mount target %s: %v", path, err)
	}
	return nil
}

func logCreated(strategy string, cfg Config) {
	boxlog.WithComponent("bindmount").Debug().
		Str("strategy", strategy).
		Str("source", cfg.Source).
		Str("target", cfg.Target).
		Bool("read_only", cfg.ReadOnly).
		Msg("bind mount created")
}
