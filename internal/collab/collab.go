// Package collab defines the narrow interfaces boxinit's tasks drive:
// the OCI image store, the VMM controller, and the guest session RPC
// façade. The core never imports a concrete implementation directly —
// only these interfaces and whatever fake or real adapter the caller
// wires in, the same narrow-interface-over-one-implementation shape
// the teacher uses for its own runtime engine boundary.
package collab

import (
	"context"
	"io"

	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/disk"
)

// Image is a pulled OCI image, cached by digest.
type Image interface {
	Layers() ([]string, error)
	// Disk returns the image's cached base disk, if one has already
	// been built from its layers.
	Disk() (*disk.Disk, error)
	// InstallDisk registers d as this image's cached base disk so later
	// pulls of the same digest reuse it instead of rebuilding.
	InstallDisk(d *disk.Disk) (*disk.Disk, error)
	LoadConfig() (boxtypes.OciConfig, error)
}

// ImageStore resolves an image reference to a cached Image.
type ImageStore interface {
	Pull(ctx context.Context, ref string) (Image, error)
}

// InstanceSpec is everything the VMM needs to spawn or describe a
// box's virtual machine.
type InstanceSpec struct {
	BoxID     string
	CPUs      int
	MemoryMiB int
	RootDisk  *disk.Disk
	GuestDisk *disk.Disk
	Volumes   []boxtypes.UserVolume
	Ports     []boxtypes.PortMapping
	Env       map[string]string
	Transport boxtypes.Transport
}

// HandlerMetrics is a point-in-time snapshot of a running VMM process.
type HandlerMetrics struct {
	PID       int32
	UptimeSec float64
}

// Handler controls one running VMM subprocess.
type Handler interface {
	PID() int32
	IsRunning() bool
	Metrics() HandlerMetrics
	Stop(ctx context.Context) error
}

// VmmController spawns or reattaches to a box's VMM subprocess.
type VmmController interface {
	Start(ctx context.Context, spec InstanceSpec) (Handler, error)
	// Attach constructs a Handler for an already-running subprocess,
	// used on the Running (reattach) init plan. Callers have already
	// verified PID liveness and identity before calling this.
	Attach(ctx context.Context, pid int32) (Handler, error)
}

// GuestFacade exposes the guest-agent-wide RPCs.
type GuestFacade interface {
	Init(ctx context.Context, volumes []boxtypes.UserVolume) error
	Shutdown(ctx context.Context) error
}

// ContainerFacade exposes container-lifecycle RPCs within the guest.
type ContainerFacade interface {
	Init(ctx context.Context, cfg boxtypes.OciConfig, binds []boxtypes.UserVolume) (containerID string, err error)
}

// ExecutionHandle is a running command inside a container. Stdin/Stdout/
// Stderr are nil when the command wasn't given a TTY/pipe for that
// stream (e.g. BoxCommand.TTY false and no stdin requested).
type ExecutionHandle interface {
	ID() string
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Wait(ctx context.Context) (exitCode int, err error)
	Kill(ctx context.Context) error
}

// ExecutionFacade runs commands inside an already-initialized container.
type ExecutionFacade interface {
	Exec(ctx context.Context, containerID string, cmd boxtypes.BoxCommand) (ExecutionHandle, error)
}

// GuestSession is an open RPC channel to one box's guest agent.
type GuestSession interface {
	Guest() GuestFacade
	Container() ContainerFacade
	Execution() ExecutionFacade
	Close() error
}

// GuestDialer opens a GuestSession against a box's configured
// transport, waiting (bounded) for the agent to signal readiness.
type GuestDialer interface {
	Dial(ctx context.Context, transport boxtypes.Transport) (GuestSession, error)
}
