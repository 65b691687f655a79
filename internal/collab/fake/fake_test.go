package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/disk"
)

func TestImageStorePullAndInstallDisk(t *testing.T) {
	store := NewImageStore()
	img := NewImage([]string{"layer1.tar"}, boxtypes.OciConfig{Cmd: []string{"/bin/sh"}})
	store.Register("alpine:latest", img)

	got, err := store.Pull(context.Background(), "alpine:latest")
	require.NoError(t, err)

	layers, err := got.Layers()
	require.NoError(t, err)
	assert.Equal(t, []string{"layer1.tar"}, layers)

	d, err := got.Disk()
	require.NoError(t, err)
	assert.Nil(t, d)

	base := disk.New("/nonexistent/boxlite-fake-base.raw", disk.FormatRaw, true)
	installed, err := got.InstallDisk(base)
	require.NoError(t, err)
	assert.Same(t, base, installed)

	d, err = got.Disk()
	require.NoError(t, err)
	assert.Same(t, base, d)
}

func TestImageStorePullUnknownRefFails(t *testing.T) {
	store := NewImageStore()
	_, err := store.Pull(context.Background(), "missing:latest")
	assert.Error(t, err)
}

func TestVmmControllerStartThenAttach(t *testing.T) {
	ctrl := NewVmmController()
	h, err := ctrl.Start(context.Background(), collab.InstanceSpec{BoxID: "box1"})
	require.NoError(t, err)
	assert.True(t, h.IsRunning())

	attached, err := ctrl.Attach(context.Background(), h.PID())
	require.NoError(t, err)
	assert.Equal(t, h.PID(), attached.PID())
}

func TestVmmControllerAttachFailsAfterStop(t *testing.T) {
	ctrl := NewVmmController()
	h, err := ctrl.Start(context.Background(), collab.InstanceSpec{})
	require.NoError(t, err)
	require.NoError(t, h.Stop(context.Background()))

	_, err = ctrl.Attach(context.Background(), h.PID())
	assert.Error(t, err)
}

func TestGuestSessionFullFlow(t *testing.T) {
	dialer := NewGuestDialer()
	session, err := dialer.Dial(context.Background(), boxtypes.UnixTransport("/tmp/ready.sock"))
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Guest().Init(context.Background(), nil))

	containerID, err := session.Container().Init(context.Background(), boxtypes.OciConfig{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, containerID)

	exec, err := session.Execution().Exec(context.Background(), containerID, boxtypes.BoxCommand{Prog: "/bin/true"})
	require.NoError(t, err)
	code, err := exec.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}
