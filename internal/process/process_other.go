//go:build !linux

package process

import (
	"os"
	"syscall"

	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxlog"
)

func isAlive(pid int32) bool {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func kill(pid int32) bool {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return true
	}
	err = proc.Kill()
	return err == nil || err == os.ErrProcessDone
}

// No /proc/<pid>/cmdline equivalent is wired on this platform (the
// original used the sysinfo crate; no Go equivalent was available in
// the pack for this port). Liveness is the only signal available, which
// is weaker PID-reuse defense than Linux's binary+BoxID cmdline check.
func isSameProcess(pid int32, id boxid.ID) bool {
	boxlog.WithComponent("process").Warn().
		Int32("pid", pid).Str("box_id", id.String()).
		Msg("process identity verification is liveness-only on this platform")
	return isAlive(pid)
}
