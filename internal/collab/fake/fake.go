// Package fake provides minimal in-memory implementations of every
// internal/collab interface, sufficient to drive the init pipeline
// end-to-end in tests without a real OCI puller, VMM binary, or guest
// agent.
package fake

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/disk"
)

// ProcessChecker is a fake process.Checker with fixed answers, letting
// tests simulate a reattach target's liveness/identity outcome without
// depending on a real entry in the OS process table.
type ProcessChecker struct {
	Alive       bool
	SameProcess bool
}

func (c ProcessChecker) IsAlive(pid int32) bool                   { return c.Alive }
func (c ProcessChecker) IsSameProcess(pid int32, id boxid.ID) bool { return c.SameProcess }

// Image is an in-memory collab.Image.
type Image struct {
	mu     sync.Mutex
	layers []string
	cached *disk.Disk
	config boxtypes.OciConfig
}

func NewImage(layers []string, config boxtypes.OciConfig) *Image {
	return &Image{layers: layers, config: config}
}

func (i *Image) Layers() ([]string, error) { return i.layers, nil }

func (i *Image) Disk() (*disk.Disk, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cached, nil
}

func (i *Image) InstallDisk(d *disk.Disk) (*disk.Disk, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cached = d
	return d, nil
}

func (i *Image) LoadConfig() (boxtypes.OciConfig, error) { return i.config, nil }

// ImageStore is an in-memory collab.ImageStore keyed by reference
// string; callers seed it with Register before running a pipeline.
type ImageStore struct {
	mu     sync.Mutex
	images map[string]*Image
}

func NewImageStore() *ImageStore {
	return &ImageStore{images: make(map[string]*Image)}
}

func (s *ImageStore) Register(ref string, img *Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[ref] = img
}

func (s *ImageStore) Pull(ctx context.Context, ref string) (collab.Image, error) {
	const op = "fake.ImageStore.Pull"
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[ref]
	if !ok {
		return nil, boxerr.NotFoundf(op, "no fake image registered for ref %q", ref)
	}
	return img, nil
}

// Handler is an in-memory collab.Handler: no subprocess, just state.
type Handler struct {
	pid     int32
	running atomic.Bool
	started time.Time
}

func NewHandler(pid int32) *Handler {
	h := &Handler{pid: pid, started: time.Now()}
	h.running.Store(true)
	return h
}

func (h *Handler) PID() int32       { return h.pid }
func (h *Handler) IsRunning() bool  { return h.running.Load() }
func (h *Handler) Metrics() collab.HandlerMetrics {
	return collab.HandlerMetrics{PID: h.pid, UptimeSec: time.Since(h.started).Seconds()}
}
func (h *Handler) Stop(ctx context.Context) error {
	h.running.Store(false)
	return nil
}

// VmmController is an in-memory collab.VmmController allocating
// sequential fake PIDs.
type VmmController struct {
	mu       sync.Mutex
	nextPID  int32
	handlers map[int32]*Handler
}

func NewVmmController() *VmmController {
	// Starts far above any real OS PID range so a test that (mis)calls
	// process.Kill against a fake handler's PID can never hit a real
	// process.
	return &VmmController{nextPID: 2_000_000_000, handlers: make(map[int32]*Handler)}
}

func (c *VmmController) Start(ctx context.Context, spec collab.InstanceSpec) (collab.Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pid := c.nextPID
	c.nextPID++
	h := NewHandler(pid)
	c.handlers[pid] = h
	return h, nil
}

func (c *VmmController) Attach(ctx context.Context, pid int32) (collab.Handler, error) {
	const op = "fake.VmmController.Attach"
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handlers[pid]
	if !ok || !h.IsRunning() {
		return nil, boxerr.Enginef(op, "no running fake VMM with pid %d", pid)
	}
	return h, nil
}

// GuestFacade/ContainerFacade/ExecutionFacade/GuestSession below form
// one fake RPC surface; every call succeeds immediately.

type guestFacade struct{}

func (guestFacade) Init(ctx context.Context, volumes []boxtypes.UserVolume) error { return nil }
func (guestFacade) Shutdown(ctx context.Context) error                           { return nil }

type containerFacade struct{}

func (c *containerFacade) Init(ctx context.Context, cfg boxtypes.OciConfig, binds []boxtypes.UserVolume) (string, error) {
	return uuid.New().String(), nil
}

// nopWriteCloser discards everything written to it, standing in for a
// fake command's stdin pipe.
type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

type executionHandle struct {
	id string
}

func (e *executionHandle) ID() string                 { return e.id }
func (e *executionHandle) Stdin() io.WriteCloser       { return nopWriteCloser{} }
func (e *executionHandle) Stdout() io.Reader           { return strings.NewReader("") }
func (e *executionHandle) Stderr() io.Reader           { return strings.NewReader("") }
func (e *executionHandle) Wait(ctx context.Context) (int, error) { return 0, nil }
func (e *executionHandle) Kill(ctx context.Context) error        { return nil }

type executionFacade struct{}

func (e *executionFacade) Exec(ctx context.Context, containerID string, cmd boxtypes.BoxCommand) (collab.ExecutionHandle, error) {
	return &executionHandle{id: uuid.New().String()}, nil
}

// GuestSession is an in-memory collab.GuestSession.
type GuestSession struct {
	guest     guestFacade
	container containerFacade
	execution executionFacade
	closed    atomic.Bool
}

func NewGuestSession() *GuestSession { return &GuestSession{} }

func (s *GuestSession) Guest() collab.GuestFacade         { return s.guest }
func (s *GuestSession) Container() collab.ContainerFacade { return &s.container }
func (s *GuestSession) Execution() collab.ExecutionFacade { return &s.execution }
func (s *GuestSession) Close() error {
	s.closed.Store(true)
	return nil
}

// GuestDialer is an in-memory collab.GuestDialer that always succeeds.
type GuestDialer struct{}

func NewGuestDialer() *GuestDialer { return &GuestDialer{} }

func (GuestDialer) Dial(ctx context.Context, transport boxtypes.Transport) (collab.GuestSession, error) {
	return NewGuestSession(), nil
}
