package boxlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab/fake"
)

// Scenario-level coverage (spec §8's S1-S4) lives in internal/runtime
// (S5's merge rule is unit-tested in internal/boxinit),
// where the test can reach the home layout's unexported paths to check
// disk persistence/removal directly. This file only exercises the
// public facade's wiring: that New/Create/Exec/Stop/Remove compose
// correctly through the type aliases a caller outside this module sees.
func TestPublicFacadeRoundTrip(t *testing.T) {
	imgStore := fake.NewImageStore()
	imgStore.Register("alpine:latest", fake.NewImage(
		[]string{t.TempDir()},
		boxtypes.OciConfig{Cmd: []string{"/bin/sh"}},
	))

	rt, err := New(RuntimeOptions{
		Home:   filepath.Join(t.TempDir(), "home"),
		Images: imgStore,
	})
	require.NoError(t, err)
	defer rt.Close()

	opts := DefaultBoxOptions()
	opts.Rootfs = RootfsSpec{Kind: RootfsImage, Image: "alpine:latest"}

	h, err := rt.Create("demo", opts)
	require.NoError(t, err)

	exec, err := h.Exec(context.Background(), BoxCommand{Args: []string{"echo", "hi"}})
	require.NoError(t, err)
	code, err := exec.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	info, err := h.Info()
	require.NoError(t, err)
	assert.Equal(t, boxtypes.StatusRunning, info.Status)

	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, rt.Remove(context.Background(), "demo", false))
	assert.False(t, rt.Exists("demo"))
}

func TestUnixAndVsockTransportConstructors(t *testing.T) {
	ut := UnixTransport("/tmp/foo.sock")
	assert.Equal(t, boxtypes.TransportUnix, ut.Kind)
	assert.Equal(t, "/tmp/foo.sock", ut.Path)

	vt := VsockTransport(3, 1024)
	assert.Equal(t, boxtypes.TransportVsock, vt.Kind)
	assert.Equal(t, uint32(3), vt.CID)
	assert.Equal(t, uint32(1024), vt.Port)
}
