package registry

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/store"
)

// fakeStore is an in-memory stand-in for store.BoxStore, used so these
// tests exercise registry's locking/database-first discipline without a
// real SQLite file.
type fakeStore struct {
	records map[boxid.ID]store.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[boxid.ID]store.Record)}
}

func (f *fakeStore) Save(cfg boxtypes.Config, st boxtypes.State) error {
	f.records[cfg.ID] = store.Record{Config: cfg, State: st}
	return nil
}

func (f *fakeStore) UpdateStatus(id boxid.ID, status boxtypes.Status) error {
	rec, ok := f.records[id]
	if !ok {
		return boxerr.NotFoundf("fakeStore.UpdateStatus", "box %s not found", id)
	}
	rec.State.Status = status
	f.records[id] = rec
	return nil
}

func (f *fakeStore) UpdatePID(id boxid.ID, pid *int32) error {
	rec, ok := f.records[id]
	if !ok {
		return boxerr.NotFoundf("fakeStore.UpdatePID", "box %s not found", id)
	}
	rec.State.PID = pid
	f.records[id] = rec
	return nil
}

func (f *fakeStore) UpdateContainerID(id boxid.ID, containerID string) error {
	rec, ok := f.records[id]
	if !ok {
		return boxerr.NotFoundf("fakeStore.UpdateContainerID", "box %s not found", id)
	}
	rec.State.ContainerID = containerID
	f.records[id] = rec
	return nil
}

func (f *fakeStore) Get(id boxid.ID) (boxtypes.Config, boxtypes.State, error) {
	rec, ok := f.records[id]
	if !ok {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.NotFoundf("fakeStore.Get", "box %s not found", id)
	}
	return rec.Config, rec.State, nil
}

func (f *fakeStore) GetByName(name string) (boxtypes.Config, boxtypes.State, error) {
	for _, rec := range f.records {
		if rec.Config.Name == name {
			return rec.Config, rec.State, nil
		}
	}
	return boxtypes.Config{}, boxtypes.State{}, boxerr.NotFoundf("fakeStore.GetByName", "box named %q not found", name)
}

func (f *fakeStore) ListAll() ([]store.Record, error) {
	out := make([]store.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) Delete(id boxid.ID) error {
	if _, ok := f.records[id]; !ok {
		return boxerr.NotFoundf("fakeStore.Delete", "box %s not found", id)
	}
	delete(f.records, id)
	return nil
}

func (f *fakeStore) CheckAndUpdateBoot(current string) (bool, error) { return false, nil }
func (f *fakeStore) ResetActiveAfterReboot() ([]boxid.ID, error)     { return nil, nil }
func (f *fakeStore) Close() error                                    { return nil }

// fakeChecker is a fixed-answer process.Checker, so reconciliation tests
// don't depend on a real PID's presence in the OS process table.
type fakeChecker struct {
	alive bool
	same  bool
}

func (c fakeChecker) IsAlive(pid int32) bool                   { return c.alive }
func (c fakeChecker) IsSameProcess(pid int32, id boxid.ID) bool { return c.same }

func testConfig(name string, createdAt time.Time) boxtypes.Config {
	return boxtypes.Config{
		ID:        boxid.New(),
		Name:      name,
		CreatedAt: createdAt,
		Options:   boxtypes.DefaultOptions(),
	}
}

func testState() boxtypes.State {
	return boxtypes.State{Status: boxtypes.StatusStopped, UpdatedAt: time.Now()}
}

func TestRegisterAndGet(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	st := testState()

	require.NoError(t, reg.Register(cfg, st))

	gotCfg, gotState, ok := reg.Get(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, cfg.ID, gotCfg.ID)
	assert.Equal(t, boxtypes.StatusStopped, gotState.Status)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	st := testState()

	require.NoError(t, reg.Register(cfg, st))
	err := reg.Register(cfg, st)
	require.Error(t, err)
	assert.True(t, boxerr.Is(err, boxerr.KindInvalidState))
}

func TestUpdateStatus(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	require.NoError(t, reg.Register(cfg, testState()))

	require.NoError(t, reg.UpdateStatus(cfg.ID, boxtypes.StatusRunning))

	_, st, ok := reg.Get(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, boxtypes.StatusRunning, st.Status)
}

func TestUpdatePID(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	require.NoError(t, reg.Register(cfg, testState()))

	pid := int32(4242)
	require.NoError(t, reg.UpdatePID(cfg.ID, &pid))

	_, st, ok := reg.Get(cfg.ID)
	require.True(t, ok)
	require.NotNil(t, st.PID)
	assert.Equal(t, pid, *st.PID)
}

func TestListBoxesSortedByCreatedAtDescending(t *testing.T) {
	reg := New(newFakeStore())
	now := time.Now()

	oldest := testConfig("oldest", now.Add(-2*time.Hour))
	middle := testConfig("middle", now.Add(-1*time.Hour))
	newest := testConfig("newest", now)

	require.NoError(t, reg.Register(oldest, testState()))
	require.NoError(t, reg.Register(middle, testState()))
	require.NoError(t, reg.Register(newest, testState()))

	list := reg.List()
	require.Len(t, list, 3)
	assert.True(t, sort.SliceIsSorted(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	}))
	assert.Equal(t, "newest", list[0].Name)
	assert.Equal(t, "oldest", list[2].Name)
}

func TestRemoveStoppedBoxSucceeds(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	require.NoError(t, reg.Register(cfg, testState()))

	_, _, err := reg.Remove(cfg.ID)
	require.NoError(t, err)

	_, _, ok := reg.Get(cfg.ID)
	assert.False(t, ok)
}

func TestCannotRemoveRunningBox(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	st := testState()
	st.Status = boxtypes.StatusRunning
	require.NoError(t, reg.Register(cfg, st))

	_, _, err := reg.Remove(cfg.ID)
	require.Error(t, err)
	assert.True(t, boxerr.Is(err, boxerr.KindInvalidState))

	_, _, ok := reg.Get(cfg.ID)
	assert.True(t, ok)
}

func TestGetByName(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	require.NoError(t, reg.Register(cfg, testState()))

	gotCfg, _, ok := reg.GetByName("alpha")
	require.True(t, ok)
	assert.Equal(t, cfg.ID, gotCfg.ID)

	_, _, ok = reg.GetByName("missing")
	assert.False(t, ok)
}

func TestMarkCrashed(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	st := testState()
	st.Status = boxtypes.StatusRunning
	require.NoError(t, reg.Register(cfg, st))

	require.NoError(t, reg.MarkCrashed(cfg.ID))

	_, gotState, ok := reg.Get(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, boxtypes.StatusCrashed, gotState.Status)
}

func TestRefreshStatesFlipsDeadPIDToCrashed(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	st := testState()
	st.Status = boxtypes.StatusRunning
	deadPID := int32(999999999)
	st.PID = &deadPID
	require.NoError(t, reg.Register(cfg, st))

	crashed := reg.RefreshStates()
	require.Len(t, crashed, 1)
	assert.Equal(t, cfg.ID, crashed[0])

	_, gotState, ok := reg.Get(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, boxtypes.StatusCrashed, gotState.Status)
}

func TestReconcileRecoveredKeepsLiveMatchingProcess(t *testing.T) {
	reg := NewWithChecker(newFakeStore(), fakeChecker{alive: true, same: true})
	cfg := testConfig("alpha", time.Now())
	st := testState()
	st.Status = boxtypes.StatusRunning
	pid := int32(4242)
	st.PID = &pid
	require.NoError(t, reg.Register(cfg, st))

	reconciled, changed, err := reg.ReconcileRecovered(cfg, st)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, boxtypes.StatusRunning, reconciled.Status)
	require.NotNil(t, reconciled.PID)
}

func TestReconcileRecoveredStopsDeadOrMismatchedPID(t *testing.T) {
	fs := newFakeStore()
	reg := NewWithChecker(fs, fakeChecker{alive: false})
	cfg := testConfig("alpha", time.Now())
	st := testState()
	st.Status = boxtypes.StatusRunning
	deadPID := int32(999999999)
	st.PID = &deadPID
	require.NoError(t, reg.Register(cfg, st))

	reconciled, changed, err := reg.ReconcileRecovered(cfg, st)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, boxtypes.StatusStopped, reconciled.Status)
	assert.Nil(t, reconciled.PID)

	// ReconcileRecovered writes the store only; the cache is filled
	// afterwards by RegisterRecovered, so check the persisted row.
	_, gotState, err := fs.Get(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, boxtypes.StatusStopped, gotState.Status)
}

func TestReconcileRecoveredStopsActiveBoxWithNoPID(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	st := testState()
	st.Status = boxtypes.StatusStarting // active, but init never reached a PID
	require.NoError(t, reg.Register(cfg, st))

	reconciled, changed, err := reg.ReconcileRecovered(cfg, st)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, boxtypes.StatusStopped, reconciled.Status)
}

func TestReconcileRecoveredLeavesInactiveBoxUntouched(t *testing.T) {
	reg := New(newFakeStore())
	cfg := testConfig("alpha", time.Now())
	st := testState()
	st.Status = boxtypes.StatusStopped
	require.NoError(t, reg.Register(cfg, st))

	reconciled, changed, err := reg.ReconcileRecovered(cfg, st)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, boxtypes.StatusStopped, reconciled.Status)
}

func TestOperationsOnUnknownBoxReturnNotFound(t *testing.T) {
	reg := New(newFakeStore())
	unknown := boxid.New()

	err := reg.UpdateStatus(unknown, boxtypes.StatusRunning)
	require.Error(t, err)
	assert.True(t, boxerr.Is(err, boxerr.KindNotFound))
}
