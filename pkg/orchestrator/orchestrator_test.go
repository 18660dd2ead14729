package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/provision"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/state"
	"github.com/hutchlabs/hutch/pkg/types"
	"github.com/hutchlabs/hutch/pkg/volume"
)

type recordingIssuer struct {
	mu      sync.Mutex
	ensured []string
	revoked []string
}

func (r *recordingIssuer) Ensure(volumeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensured = append(r.ensured, volumeID)
	return nil
}

func (r *recordingIssuer) Revoke(volumeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, volumeID)
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *state.Store, *runtime.FakeGateway, *volume.Manager, *recordingIssuer) {
	t.Helper()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	volumes, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)
	gw := runtime.NewFakeGateway()
	issuer := &recordingIssuer{}

	orch := New(Config{
		Store:    store,
		Gateway:  gw,
		Volumes:  volumes,
		Pipeline: provision.NewPipeline(store, gw, volumes, nil),
		Creds:    issuer,
	})
	return orch, store, gw, volumes, issuer
}

func spec(id string) *types.WorkloadSpec {
	return &types.WorkloadSpec{
		ID:    id,
		Image: "docker.io/library/redis:7",
		PortBindings: map[int][]types.PortBinding{
			25565: {{HostPort: 30000}},
		},
	}
}

// TestCreateConvergesToReady tests the accepted-then-provisioned flow
func TestCreateConvergesToReady(t *testing.T) {
	orch, store, gw, _, issuer := newTestOrchestrator(t)

	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))

	// Acceptance is durable before the pipeline finishes.
	assert.NotEqual(t, types.StateUnknown, store.Get("w1").State)

	orch.Drain()
	rec := store.Get("w1")
	assert.Equal(t, types.StateReady, rec.State)
	assert.True(t, gw.Running(rec.ContainerID))
	assert.Equal(t, []string{"w1"}, issuer.ensured)
}

// TestCreateRejectsExisting tests that ready and installing workloads refuse
// a second create
func TestCreateRejectsExisting(t *testing.T) {
	orch, store, _, _, _ := newTestOrchestrator(t)

	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))
	orch.Drain()
	require.Equal(t, types.StateReady, store.Get("w1").State)

	err := orch.Create(context.Background(), spec("w1"), nil)
	assert.True(t, errdefs.IsConfig(err))
}

// TestCreateAllowedFromFailed tests that a failed workload can be created
// again
func TestCreateAllowedFromFailed(t *testing.T) {
	orch, store, _, _, _ := newTestOrchestrator(t)

	require.NoError(t, store.Set("w1", types.StateFailed, ""))
	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))
	orch.Drain()
	assert.Equal(t, types.StateReady, store.Get("w1").State)
}

// TestCreateRejectsInvalidSpec tests validation up front
func TestCreateRejectsInvalidSpec(t *testing.T) {
	orch, _, _, _, _ := newTestOrchestrator(t)

	err := orch.Create(context.Background(), &types.WorkloadSpec{ID: "w1"}, nil)
	assert.True(t, errdefs.IsConfig(err))

	err = orch.Create(context.Background(), &types.WorkloadSpec{ID: "../evil", Image: "img"}, nil)
	assert.True(t, errdefs.IsConfig(err))
}

// TestDeleteIsIdempotent tests that delete twice reports success both times
func TestDeleteIsIdempotent(t *testing.T) {
	orch, store, _, volumes, issuer := newTestOrchestrator(t)

	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))
	orch.Drain()

	require.NoError(t, orch.Delete(context.Background(), "w1"))
	assert.Equal(t, types.StateUnknown, store.Get("w1").State)
	assert.False(t, volumes.Exists("w1"))
	assert.Equal(t, []string{"w1"}, issuer.revoked)

	// Second delete: everything already gone, still no error.
	require.NoError(t, orch.Delete(context.Background(), "w1"))

	// And for an id that never existed.
	require.NoError(t, orch.Delete(context.Background(), "ghost"))
}

// TestRedeployRemovesBeforeCreate tests the ordering invariant: the old
// container is stopped and removed before the new one is created.
func TestRedeployRemovesBeforeCreate(t *testing.T) {
	orch, store, gw, _, _ := newTestOrchestrator(t)

	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))
	orch.Drain()
	oldID := store.Get("w1").ContainerID
	require.NotEmpty(t, oldID)

	newID, err := orch.Redeploy(context.Background(), spec("w1"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, types.StateReady, store.Get("w1").State)

	calls := gw.CallLog()
	removeIdx, createIdx := -1, -1
	for i, call := range calls {
		if call == "remove "+oldID {
			removeIdx = i
		}
		if call == "create w1" && i > 0 && createIdx == -1 && removeIdx != -1 {
			createIdx = i
		}
	}
	require.NotEqual(t, -1, removeIdx, "old container was never removed")
	require.NotEqual(t, -1, createIdx, "new container was never created after removal")
	assert.Less(t, removeIdx, createIdx)

	// Exactly one container bound to the workload.
	assert.Equal(t, []string{newID}, gw.RunningForWorkload("w1"))
}

// TestRedeploySkipsInstallScripts tests that redeploy strips scripts while
// reinstall keeps them
func TestRedeploySkipsInstallScripts(t *testing.T) {
	orch, store, _, volumes, _ := newTestOrchestrator(t)

	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))
	orch.Drain()

	s := spec("w1")
	s.InstallScripts = []types.InstallScript{
		{URI: "http://127.0.0.1:1/unreachable.sh", Destination: "unreachable.sh"},
	}

	// Redeploy drops the scripts entirely: no fetch attempt, still ready.
	_, err := orch.Redeploy(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, store.Get("w1").State)

	path, err := volumes.Path("w1")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(path, "unreachable.sh"))
}

// TestReinstallCarriesEnvironment tests that reinstall rebuilds its variable
// map from the previous container's environment
func TestReinstallCarriesEnvironment(t *testing.T) {
	orch, store, gw, _, _ := newTestOrchestrator(t)

	s := spec("w1")
	s.Env = []string{"WORLD=alpha"}
	require.NoError(t, orch.Create(context.Background(), s, nil))
	orch.Drain()

	newID, err := orch.Reinstall(context.Background(), spec("w1"))
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, store.Get("w1").State)

	info, err := gw.InspectContainer(context.Background(), newID)
	require.NoError(t, err)
	assert.Contains(t, info.Env, "WORLD=alpha")
}

// TestEditMergesOverrides tests that edit preserves unspecified fields
func TestEditMergesOverrides(t *testing.T) {
	orch, store, gw, _, _ := newTestOrchestrator(t)

	s := spec("w1")
	s.Env = []string{"MODE=server"}
	s.Command = []string{"run.sh"}
	require.NoError(t, orch.Create(context.Background(), s, nil))
	orch.Drain()

	newID, err := orch.Edit(context.Background(), "w1", EditRequest{Image: "docker.io/library/redis:8"})
	require.NoError(t, err)

	info, err := gw.InspectContainer(context.Background(), newID)
	require.NoError(t, err)
	assert.Equal(t, "docker.io/library/redis:8", info.Image)
	assert.Equal(t, []string{"run.sh"}, info.Command)
	assert.Contains(t, info.Env, "MODE=server")
	assert.Equal(t, s.PortBindings, info.PortBindings)

	assert.Equal(t, types.StateReady, store.Get("w1").State)
}

// TestEditUnknownWorkload tests that edit requires a bound container
func TestEditUnknownWorkload(t *testing.T) {
	orch, _, _, _, _ := newTestOrchestrator(t)

	_, err := orch.Edit(context.Background(), "ghost", EditRequest{Image: "img"})
	assert.True(t, errdefs.IsNotFound(err))
}

// TestConcurrentOperationConflicts tests the per-workload serialization:
// a second operation while one is in flight fails fast with a conflict.
func TestConcurrentOperationConflicts(t *testing.T) {
	orch, _, _, _, _ := newTestOrchestrator(t)

	mu, err := orch.lock("w1")
	require.NoError(t, err)
	defer mu.Unlock()

	err = orch.Delete(context.Background(), "w1")
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	_, err = orch.Redeploy(context.Background(), spec("w1"), nil)
	assert.ErrorIs(t, err, errdefs.ErrConflict)
}

// TestPowerActions tests start/stop/restart plumbing
func TestPowerActions(t *testing.T) {
	orch, store, gw, _, _ := newTestOrchestrator(t)

	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))
	orch.Drain()
	cid := store.Get("w1").ContainerID

	require.NoError(t, orch.Power(context.Background(), "w1", "stop"))
	assert.False(t, gw.Running(cid))

	require.NoError(t, orch.Power(context.Background(), "w1", "start"))
	assert.True(t, gw.Running(cid))

	require.NoError(t, orch.Power(context.Background(), "w1", "restart"))
	assert.True(t, gw.Running(cid))

	err := orch.Power(context.Background(), "w1", "hibernate")
	assert.True(t, errdefs.IsConfig(err))

	err = orch.Power(context.Background(), "ghost", "start")
	assert.True(t, errdefs.IsNotFound(err))
}

// TestReconcileBootDemotesStaleRecords tests the startup convergence rules
func TestReconcileBootDemotesStaleRecords(t *testing.T) {
	orch, store, gw, _, _ := newTestOrchestrator(t)

	// A genuinely running workload keeps its ready state.
	require.NoError(t, orch.Create(context.Background(), spec("alive"), nil))
	orch.Drain()

	// A ready record whose container stopped behind our back.
	require.NoError(t, orch.Create(context.Background(), spec("stopped"), nil))
	orch.Drain()
	gw.SetRunning(store.Get("stopped").ContainerID, false)

	// A ready record whose container vanished entirely.
	require.NoError(t, store.Set("vanished", types.StateReady, "vanished-99"))

	// A pipeline that never finished before the restart.
	require.NoError(t, store.Set("stuck", types.StateInstalling, ""))

	orch.ReconcileBoot(context.Background())

	assert.Equal(t, types.StateReady, store.Get("alive").State)
	assert.Equal(t, types.StateFailed, store.Get("stopped").State)
	assert.Equal(t, types.StateFailed, store.Get("vanished").State)
	assert.Equal(t, types.StateFailed, store.Get("stuck").State)

	// Reconciliation never leaves anything installing.
	for _, rec := range store.List() {
		assert.NotEqual(t, types.StateInstalling, rec.State)
	}
}

// TestOperationsConvergeToTerminalState tests that whatever an operation
// does, no workload is left installing once it returns
func TestOperationsConvergeToTerminalState(t *testing.T) {
	orch, store, gw, _, _ := newTestOrchestrator(t)

	require.NoError(t, orch.Create(context.Background(), spec("w1"), nil))
	orch.Drain()

	// Force the next create inside replace to fail.
	gw.CreateErr = func(cs runtime.ContainerSpec) error {
		return errdefs.Runtime("create container", context.DeadlineExceeded)
	}
	_, err := orch.Redeploy(context.Background(), spec("w1"), nil)
	require.Error(t, err)

	rec := store.Get("w1")
	assert.Equal(t, types.StateFailed, rec.State)

	// Converge again once the runtime recovers.
	gw.CreateErr = nil
	_, err = orch.Redeploy(context.Background(), spec("w1"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, store.Get("w1").State)
}
