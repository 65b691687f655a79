//go:build linux

package bindmount

import (
	"github.com/syndtr/gocapability/capability"

	"github.com/cuemby/boxlite/internal/boxlog"
)

func create(cfg Config) (Handle, error) {
	if err := ensureTargetDir(cfg.Target); err != nil {
		return nil, err
	}
	if hasCapSysAdmin() {
		return createNative(cfg)
	}
	boxlog.WithComponent("bindmount").Debug().Msg("CAP_SYS_ADMIN unavailable, falling back to FUSE passthrough")
	return createFuse(cfg)
}

func hasCapSysAdmin() bool {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false
	}
	if err := caps.Load(); err != nil {
		return false
	}
	return caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN)
}
