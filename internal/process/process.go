// Package process provides PID liveness and identity verification used
// to defend against PID reuse when reattaching to a box's VMM
// subprocess across a runtime-process restart.
package process

import (
	"github.com/cuemby/boxlite/internal/boxid"
)

// VmmBinaryName is the process name the identity check looks for on the
// command line of a reattached PID.
const VmmBinaryName = "boxlite-shim"

// IsAlive sends the null signal to pid and reports whether the process
// exists and is signalable by this user.
func IsAlive(pid int32) bool {
	return isAlive(pid)
}

// Kill sends SIGKILL to pid. Returns true if the signal was delivered or
// the process was already gone (idempotent from the caller's view).
func Kill(pid int32) bool {
	return kill(pid)
}

// IsSameProcess reports whether pid's command line contains both the
// VMM binary name and id's literal text, the combination the spec
// requires to defeat PID reuse. Platforms without a reliable cmdline
// source fall back to liveness-only and the caller should treat that as
// weaker evidence (documented gap, see DESIGN.md).
func IsSameProcess(pid int32, id boxid.ID) bool {
	return isSameProcess(pid, id)
}
