package boxinit

import (
	"context"
	"fmt"

	"github.com/cuemby/boxlite/internal/bindmount"
	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/disk"
	"github.com/cuemby/boxlite/internal/layout"
	"github.com/cuemby/boxlite/internal/process"
)

// filesystemSetupTask materializes the per-box directory layout and,
// if requested, bind-mounts a read-only view of mounts/ into shared/.
type filesystemSetupTask struct {
	ctx  *Context
	home layout.Home
}

func (t *filesystemSetupTask) Name() string { return "filesystem_setup" }

func (t *filesystemSetupTask) Run(_ context.Context) error {
	const op = "boxinit.filesystem_setup"
	box := t.home.BoxLayout(t.ctx.Config.ID, t.ctx.Config.Options.IsolateMounts)
	if err := box.Prepare(); err != nil {
		return err
	}
	t.ctx.Guard.SetLayout(box)

	if box.IsolateMounts {
		handle, err := bindmount.Create(bindmount.Config{
			Source:   box.MountsDir(),
			Target:   box.SharedDir(),
			ReadOnly: true,
		})
		switch {
		case err == nil:
			t.ctx.Guard.SetBindMount(handle)
		case boxerr.Is(err, boxerr.KindUnsupported):
			// Platform can't isolate mounts; proceed without it.
		default:
			return boxerr.Storagef(op, "bind mount mounts/ into shared/: %v", err)
		}
	}

	t.ctx.withLock(func() {
		t.ctx.FS = &FilesystemOutput{Layout: box}
	})
	return nil
}

// containerRootfsPrepTask resolves the user's rootfs image, building or
// reusing a persistent COW overlay at <box_home>/root.qcow2.
type containerRootfsPrepTask struct {
	ctx *Context
}

func (t *containerRootfsPrepTask) Name() string { return "container_rootfs_prep" }

func (t *containerRootfsPrepTask) Run(ctx context.Context) error {
	const op = "boxinit.container_rootfs_prep"

	var box layout.Box
	t.ctx.withLock(func() { box = t.ctx.FS.Layout })

	if t.ctx.Config.Options.Rootfs.Kind != boxtypes.RootfsImage {
		return boxerr.Unsupportedf(op, "direct rootfs paths are not yet supported")
	}
	imageRef := t.ctx.Config.Options.Rootfs.Image
	diskPath := box.RootDiskPath()

	if t.ctx.ReuseRootfs {
		d := disk.New(diskPath, disk.FormatQcow2, true)
		img, err := t.ctx.Deps.Images.Pull(ctx, imageRef)
		if err != nil {
			return boxerr.Storagef(op, "pull image %q for restart: %v", imageRef, err)
		}
		cfg, err := img.LoadConfig()
		if err != nil {
			return boxerr.Storagef(op, "load image config for %q: %v", imageRef, err)
		}
		cfg.MergeEnv(t.ctx.Config.Options.Env)

		t.ctx.withLock(func() {
			t.ctx.ContainerRoot = &ContainerRootfsOutput{Config: cfg, Disk: d}
		})
		return nil
	}

	img, err := t.ctx.Deps.Images.Pull(ctx, imageRef)
	if err != nil {
		return boxerr.Storagef(op, "pull image %q: %v", imageRef, err)
	}

	base, err := img.Disk()
	if err != nil {
		return boxerr.Storagef(op, "check cached base disk for %q: %v", imageRef, err)
	}
	if base == nil {
		layers, err := img.Layers()
		if err != nil {
			return boxerr.Storagef(op, "list layers for %q: %v", imageRef, err)
		}
		if len(layers) == 0 {
			return boxerr.Storagef(op, "image %q has no layers", imageRef)
		}
		built, err := disk.CreateExt4FromDir(fmt.Sprintf("%s.base.raw", diskPath), layers[0])
		if err != nil {
			return boxerr.Storagef(op, "build base disk for %q: %v", imageRef, err)
		}
		base, err = img.InstallDisk(built)
		if err != nil {
			return boxerr.Storagef(op, "install base disk for %q: %v", imageRef, err)
		}
	}

	overlay, err := disk.CreateCOWChildDisk(base.Path, diskPath, disk.DefaultDiskSizeGB*1024*1024*1024)
	if err != nil {
		return boxerr.Storagef(op, "create COW overlay for %q: %v", imageRef, err)
	}
	overlay.Leak() // persists across stop/restart; only remove() tears it down

	cfg, err := img.LoadConfig()
	if err != nil {
		return boxerr.Storagef(op, "load image config for %q: %v", imageRef, err)
	}
	cfg.MergeEnv(t.ctx.Config.Options.Env)

	t.ctx.withLock(func() {
		t.ctx.ContainerRoot = &ContainerRootfsOutput{Config: cfg, Disk: overlay}
	})
	return nil
}

// guestRootfsInitTask is the guest-agent analogue of container rootfs
// prep. This runtime bakes the guest agent into the VMM image itself,
// so there is no separate disk to build; the task exists so the
// pipeline shape matches the spec's three-plan table regardless of
// whether a future guest rootfs strategy needs it.
type guestRootfsInitTask struct {
	ctx *Context
}

func (t *guestRootfsInitTask) Name() string { return "guest_rootfs_init" }

func (t *guestRootfsInitTask) Run(_ context.Context) error {
	t.ctx.withLock(func() {
		t.ctx.GuestRoot = &GuestRootfsOutput{Strategy: StrategyNone}
	})
	return nil
}

// vmmSpawnTask composes an InstanceSpec and spawns the VMM subprocess.
type vmmSpawnTask struct {
	ctx *Context
}

func (t *vmmSpawnTask) Name() string { return "vmm_spawn" }

func (t *vmmSpawnTask) Run(ctx context.Context) error {
	const op = "boxinit.vmm_spawn"

	var spec collab.InstanceSpec
	t.ctx.withLock(func() {
		spec = collab.InstanceSpec{
			BoxID:     t.ctx.Config.ID.String(),
			CPUs:      t.ctx.Config.Options.CPUs,
			MemoryMiB: t.ctx.Config.Options.MemoryMiB,
			RootDisk:  t.ctx.ContainerRoot.Disk,
			Volumes:   t.ctx.Config.Options.Volumes,
			Ports:     mergedPorts(t.ctx.Config.Options.Ports, t.ctx.ContainerRoot.Config.ExposedPorts),
			Env:       t.ctx.ContainerRoot.Config.Env,
			Transport: t.ctx.Config.Transport,
		}
		if t.ctx.GuestRoot != nil {
			spec.GuestDisk = t.ctx.GuestRoot.Disk
		}
	})

	handler, err := t.ctx.Deps.Vmm.Start(ctx, spec)
	if err != nil {
		return boxerr.Enginef(op, "spawn VMM for box %s: %v", t.ctx.Config.ID, err)
	}
	t.ctx.Guard.SetHandler(handler)

	pid := handler.PID()
	if err := t.ctx.Deps.Registry.UpdatePID(t.ctx.Config.ID, &pid); err != nil {
		return err
	}
	if err := t.ctx.Deps.Registry.UpdateStatus(t.ctx.Config.ID, boxtypes.StatusRunning); err != nil {
		return err
	}

	t.ctx.withLock(func() { t.ctx.Handler = handler })
	return nil
}

// mergedPorts unions image-exposed TCP ports with user-specified ones;
// a user mapping for the same guest port wins on collision.
func mergedPorts(user, image []boxtypes.PortMapping) []boxtypes.PortMapping {
	byGuest := make(map[uint16]boxtypes.PortMapping, len(user)+len(image))
	for _, p := range image {
		if p.Protocol == boxtypes.ProtocolUDP {
			continue
		}
		byGuest[p.Guest] = p
	}
	for _, p := range user {
		byGuest[p.Guest] = p
	}
	out := make([]boxtypes.PortMapping, 0, len(byGuest))
	for _, p := range byGuest {
		out = append(out, p)
	}
	return out
}

// vmmAttachTask is the reattach path: it verifies the persisted PID is
// still this box's VMM process before handing back a live handler.
type vmmAttachTask struct {
	ctx *Context
}

func (t *vmmAttachTask) Name() string { return "vmm_attach" }

func (t *vmmAttachTask) Run(ctx context.Context) error {
	const op = "boxinit.vmm_attach"

	if t.ctx.State.PID == nil {
		return boxerr.InvalidStatef(op, "box %s has no persisted PID to attach to", t.ctx.Config.ID)
	}
	pid := *t.ctx.State.PID
	checker := t.ctx.Deps.ProcessChecker
	if checker == nil {
		checker = process.Real{}
	}
	if !checker.IsAlive(pid) || !checker.IsSameProcess(pid, t.ctx.Config.ID) {
		_ = t.ctx.Deps.Registry.MarkCrashed(t.ctx.Config.ID)
		return boxerr.Enginef(op, "box %s's VMM process (pid %d) is gone or reused", t.ctx.Config.ID, pid)
	}

	handler, err := t.ctx.Deps.Vmm.Attach(ctx, pid)
	if err != nil {
		return boxerr.Enginef(op, "attach to box %s's VMM (pid %d): %v", t.ctx.Config.ID, pid, err)
	}
	t.ctx.withLock(func() { t.ctx.Handler = handler })
	return nil
}

// guestConnectTask opens the RPC channel to the guest agent.
type guestConnectTask struct {
	ctx *Context
}

func (t *guestConnectTask) Name() string { return "guest_connect" }

func (t *guestConnectTask) Run(ctx context.Context) error {
	const op = "boxinit.guest_connect"
	session, err := t.ctx.Deps.Dialer.Dial(ctx, t.ctx.Config.Transport)
	if err != nil {
		return boxerr.Enginef(op, "connect to guest agent for box %s: %v", t.ctx.Config.ID, err)
	}
	t.ctx.withLock(func() { t.ctx.GuestSession = session })
	return nil
}

// guestInitTask initializes the guest-wide volume layout and then the
// container itself, persisting the resulting container ID.
type guestInitTask struct {
	ctx *Context
}

func (t *guestInitTask) Name() string { return "guest_init" }

func (t *guestInitTask) Run(ctx context.Context) error {
	const op = "boxinit.guest_init"

	var (
		session collab.GuestSession
		cfg     boxtypes.OciConfig
		volumes []boxtypes.UserVolume
	)
	t.ctx.withLock(func() {
		session = t.ctx.GuestSession
		cfg = t.ctx.ContainerRoot.Config
		volumes = t.ctx.Config.Options.Volumes
	})

	if err := session.Guest().Init(ctx, volumes); err != nil {
		return boxerr.Enginef(op, "guest init for box %s: %v", t.ctx.Config.ID, err)
	}
	containerID, err := session.Container().Init(ctx, cfg, volumes)
	if err != nil {
		return boxerr.Enginef(op, "container init for box %s: %v", t.ctx.Config.ID, err)
	}

	if err := t.ctx.Deps.Registry.UpdateContainerID(t.ctx.Config.ID, containerID); err != nil {
		return err
	}
	t.ctx.withLock(func() { t.ctx.ContainerID = containerID })
	return nil
}
