// Package boxlite is the embeddable entry point for this runtime: open
// a Runtime rooted at a home directory, then create, look up, exec, and
// stop boxes through it. See internal/runtime and internal/box for the
// implementation; this file only re-exports the stable public surface
// described in the external interfaces section of the design.
package boxlite

import (
	"github.com/cuemby/boxlite/internal/box"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/metrics"
	"github.com/cuemby/boxlite/internal/runtime"
)

// Runtime is one open boxlite home directory: the durable store, the
// in-memory box registry, and the collaborators every box's init
// pipeline is built from.
type Runtime = runtime.Runtime

// RuntimeOptions configures New. Home must be an absolute path.
type RuntimeOptions = runtime.Options

// BoxHandle is a caller-facing reference to one box, lazily initialized
// on first Exec (or any other operation requiring a live VMM).
type BoxHandle = box.Handle

// BoxCommand describes a command to run inside a box's container.
type BoxCommand = boxtypes.BoxCommand

// BoxOptions bundles everything supplied at create time.
type BoxOptions = boxtypes.Options

// BoxInfo is a read-only projection of a box's config and state.
type BoxInfo = boxtypes.Info

// RootfsSpec names the source of a box's container rootfs.
type RootfsSpec = boxtypes.RootfsSpec

// UserVolume is a host directory bind-mounted into a box's container.
type UserVolume = boxtypes.UserVolume

// PortMapping maps a host port to a guest port.
type PortMapping = boxtypes.PortMapping

// Transport describes how the host talks to a box's guest agent.
type Transport = boxtypes.Transport

// Execution is a running command inside a box's container.
type Execution = collab.ExecutionHandle

// RuntimeMetricsSnapshot is a point-in-time copy of runtime-wide counters.
type RuntimeMetricsSnapshot = metrics.RuntimeSnapshot

const (
	RootfsImage = boxtypes.RootfsImage
	RootfsPath  = boxtypes.RootfsPath
)

// New opens (or initializes) a Runtime at opts.Home and runs startup
// recovery before returning.
func New(opts RuntimeOptions) (*Runtime, error) {
	return runtime.New(opts)
}

// DefaultBoxOptions returns the zero-value-safe defaults for BoxOptions.
func DefaultBoxOptions() BoxOptions {
	return boxtypes.DefaultOptions()
}

// UnixTransport builds a unix-socket Transport.
func UnixTransport(path string) Transport {
	return boxtypes.UnixTransport(path)
}

// VsockTransport builds a vsock Transport.
func VsockTransport(cid, port uint32) Transport {
	return boxtypes.VsockTransport(cid, port)
}

// Create, Get, ListInfo, GetInfo, Exists, Remove, RefreshStates, and
// Metrics are exposed directly on *Runtime (see internal/runtime); Exec,
// Stop, Info, and Metrics are exposed directly on *BoxHandle (see
// internal/box). They are not redeclared here to avoid duplicating
// their doc comments.
