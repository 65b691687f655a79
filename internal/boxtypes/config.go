package boxtypes

import (
	"time"

	"github.com/cuemby/boxlite/internal/boxid"
)

// VmmKind selects the VMM engine a box's config was created with.
// Persisted so a restart reattaches to the same engine even though only
// one engine is wired behind the VmmController collaborator in this
// core.
type VmmKind string

const (
	VmmKindLibkrun VmmKind = "libkrun"
	VmmKindQemu    VmmKind = "qemu"
)

// TransportKind selects how the host talks to the guest agent.
type TransportKind string

const (
	TransportUnix  TransportKind = "unix"
	TransportVsock TransportKind = "vsock"
)

// Transport is a tagged descriptor for the guest communication channel.
type Transport struct {
	Kind TransportKind
	// Path is set when Kind == TransportUnix.
	Path string
	// CID/Port are set when Kind == TransportVsock.
	CID  uint32
	Port uint32
}

// UnixTransport builds a unix-socket Transport.
func UnixTransport(path string) Transport {
	return Transport{Kind: TransportUnix, Path: path}
}

// VsockTransport builds a vsock Transport.
func VsockTransport(cid, port uint32) Transport {
	return Transport{Kind: TransportVsock, CID: cid, Port: port}
}

// RootfsKind discriminates how a box's container rootfs is sourced.
type RootfsKind string

const (
	RootfsImage RootfsKind = "image"
	RootfsPath  RootfsKind = "path"
)

// RootfsSpec names the source of the container rootfs.
type RootfsSpec struct {
	Kind  RootfsKind
	Image string // set when Kind == RootfsImage
	Path  string // set when Kind == RootfsPath
}

// Protocol is a port-mapping transport protocol.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// PortMapping maps a host port to a guest port.
type PortMapping struct {
	Host     uint16
	Guest    uint16
	Protocol Protocol
}

// UserVolume is a host directory the caller wants bind-mounted into the
// guest container namespace.
type UserVolume struct {
	HostPath  string
	GuestPath string
	ReadOnly  bool
}

// Options bundles everything a caller supplies at create time and that
// must be preserved verbatim to support a faithful restart.
type Options struct {
	CPUs       int
	MemoryMiB  int
	Rootfs     RootfsSpec
	Env        map[string]string
	Volumes    []UserVolume
	Ports      []PortMapping
	AutoRemove bool
	// IsolateMounts exposes a read-only view of mounts/ inside shared/
	// via a bind mount (platform permitting).
	IsolateMounts bool
}

// DefaultOptions returns the zero-value-safe defaults used when a field
// is left unset by the caller.
func DefaultOptions() Options {
	return Options{
		CPUs:      1,
		MemoryMiB: 512,
		Env:       map[string]string{},
	}
}

// Config is the immutable half of a box's record: set once at create,
// persisted verbatim, never mutated afterward. Mirrors the Podman-style
// split between static config and mutable state.
type Config struct {
	ID              boxid.ID
	Name            string // empty means unnamed
	CreatedAt       time.Time
	Options         Options
	EngineKind      VmmKind
	Transport       Transport
	BoxHome         string
	ReadySocketPath string
}

// State is the mutable half of a box's record.
type State struct {
	Status      Status
	PID         *int32
	ContainerID string // empty until set by a successful guest init
	UpdatedAt   time.Time
}

// Info is a read-only projection of (Config, State) for listing/describe
// operations that must not trigger lazy initialization.
type Info struct {
	ID          boxid.ID
	Name        string
	Status      Status
	PID         *int32
	ContainerID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewInfo projects a (Config, State) pair into an Info snapshot.
func NewInfo(cfg Config, st State) Info {
	return Info{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Status:      st.Status,
		PID:         st.PID,
		ContainerID: st.ContainerID,
		CreatedAt:   cfg.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}
}
