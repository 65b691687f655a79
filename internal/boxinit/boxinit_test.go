package boxinit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab"
	"github.com/cuemby/boxlite/internal/collab/fake"
	"github.com/cuemby/boxlite/internal/layout"
	"github.com/cuemby/boxlite/internal/metrics"
	"github.com/cuemby/boxlite/internal/registry"
	"github.com/cuemby/boxlite/internal/store"
)

type memStore struct {
	records map[boxid.ID]store.Record
}

func newMemStore() *memStore { return &memStore{records: make(map[boxid.ID]store.Record)} }

func (s *memStore) Save(cfg boxtypes.Config, st boxtypes.State) error {
	s.records[cfg.ID] = store.Record{Config: cfg, State: st}
	return nil
}
func (s *memStore) UpdateStatus(id boxid.ID, status boxtypes.Status) error {
	r := s.records[id]
	r.State.Status = status
	s.records[id] = r
	return nil
}
func (s *memStore) UpdatePID(id boxid.ID, pid *int32) error {
	r := s.records[id]
	r.State.PID = pid
	s.records[id] = r
	return nil
}
func (s *memStore) UpdateContainerID(id boxid.ID, containerID string) error {
	r := s.records[id]
	r.State.ContainerID = containerID
	s.records[id] = r
	return nil
}
func (s *memStore) Get(id boxid.ID) (boxtypes.Config, boxtypes.State, error) {
	r, ok := s.records[id]
	if !ok {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.NotFoundf("memStore.Get", "not found")
	}
	return r.Config, r.State, nil
}
func (s *memStore) GetByName(name string) (boxtypes.Config, boxtypes.State, error) {
	for _, r := range s.records {
		if r.Config.Name == name {
			return r.Config, r.State, nil
		}
	}
	return boxtypes.Config{}, boxtypes.State{}, boxerr.NotFoundf("memStore.GetByName", "not found")
}
func (s *memStore) ListAll() ([]store.Record, error) {
	out := make([]store.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}
func (s *memStore) Delete(id boxid.ID) error {
	delete(s.records, id)
	return nil
}
func (s *memStore) CheckAndUpdateBoot(current string) (bool, error) { return false, nil }
func (s *memStore) ResetActiveAfterReboot() ([]boxid.ID, error)     { return nil, nil }
func (s *memStore) Close() error                                    { return nil }

func newTestDeps(t *testing.T) (Deps, *registry.Registry, layout.Home) {
	t.Helper()
	reg := registry.New(newMemStore())
	rm := &metrics.RuntimeMetrics{}

	imgStore := fake.NewImageStore()
	imgStore.Register("alpine:latest", fake.NewImage(
		[]string{t.TempDir()},
		boxtypes.OciConfig{Cmd: []string{"/bin/sh"}, Env: map[string]string{"FOO": "bar"}},
	))

	home, err := layout.NewHome(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	require.NoError(t, home.Prepare())

	return Deps{
		Images:         imgStore,
		Vmm:            fake.NewVmmController(),
		Dialer:         fake.NewGuestDialer(),
		Registry:       reg,
		Metrics:        rm,
		ProcessChecker: fake.ProcessChecker{Alive: true, SameProcess: true},
	}, reg, home
}

func testBoxConfig(id boxid.ID) boxtypes.Config {
	opts := boxtypes.DefaultOptions()
	opts.Rootfs = boxtypes.RootfsSpec{Kind: boxtypes.RootfsImage, Image: "alpine:latest"}
	return boxtypes.Config{
		ID:        id,
		Name:      "test-box",
		CreatedAt: time.Now(),
		Options:   opts,
		Transport: boxtypes.UnixTransport("/tmp/boxlite-test-ready.sock"),
	}
}

func TestFreshStartPlanSucceeds(t *testing.T) {
	deps, reg, home := newTestDeps(t)
	id := boxid.New()
	cfg := testBoxConfig(id)
	st := boxtypes.State{Status: boxtypes.StatusStarting}
	require.NoError(t, reg.Register(cfg, st))

	pctx := NewContext(cfg, st, deps)
	runMetrics, err := Run(context.Background(), pctx, home)
	require.NoError(t, err)
	pctx.Guard.Close() // no-op: Run disarmed the guard on success

	assert.NotEmpty(t, pctx.ContainerID)
	assert.NotNil(t, pctx.Handler)
	_, ok := runMetrics.TaskDuration("vmm_spawn")
	assert.True(t, ok)

	_, gotState, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, boxtypes.StatusRunning, gotState.Status)
	require.NotNil(t, gotState.PID)
}

func TestReattachPlanSucceeds(t *testing.T) {
	deps, reg, home := newTestDeps(t)
	id := boxid.New()
	cfg := testBoxConfig(id)

	handler, err := deps.Vmm.Start(context.Background(), collab.InstanceSpec{BoxID: id.String()})
	require.NoError(t, err)
	pid := handler.PID()

	st := boxtypes.State{Status: boxtypes.StatusRunning, PID: &pid}
	require.NoError(t, reg.Register(cfg, st))

	pctx := NewContext(cfg, st, deps)
	_, err = Run(context.Background(), pctx, home)
	require.NoError(t, err)

	assert.NotNil(t, pctx.GuestSession)
	assert.NotNil(t, pctx.Handler)
}

func TestVmmAttachFailsWhenPIDDead(t *testing.T) {
	deps, reg, home := newTestDeps(t)
	id := boxid.New()
	cfg := testBoxConfig(id)
	deadPID := int32(999999999)
	st := boxtypes.State{Status: boxtypes.StatusRunning, PID: &deadPID}
	require.NoError(t, reg.Register(cfg, st))

	deps.ProcessChecker = fake.ProcessChecker{Alive: false}
	pctx := NewContext(cfg, st, deps)
	_, err := Run(context.Background(), pctx, home)
	require.Error(t, err)

	_, gotState, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, boxtypes.StatusCrashed, gotState.Status)
}

func TestPipelineRollsBackOnGuardCloseAfterFailure(t *testing.T) {
	deps, reg, home := newTestDeps(t)
	id := boxid.New()
	cfg := testBoxConfig(id)
	cfg.Options.Rootfs.Image = "missing-image:latest" // not registered in the fake store
	st := boxtypes.State{Status: boxtypes.StatusStarting}
	require.NoError(t, reg.Register(cfg, st))

	pctx := NewContext(cfg, st, deps)
	_, err := Run(context.Background(), pctx, home)
	require.Error(t, err)

	pctx.Guard.Close()

	_, _, ok := reg.Get(id)
	assert.False(t, ok, "cleanup guard should have removed the box from the registry")

	_, err = os.Stat(home.BoxDir(id))
	assert.True(t, os.IsNotExist(err), "cleanup guard should have removed the box's directory")
}
