package provision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/retry"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/state"
	"github.com/hutchlabs/hutch/pkg/types"
	"github.com/hutchlabs/hutch/pkg/volume"
)

func newTestPipeline(t *testing.T) (*Pipeline, *state.Store, *runtime.FakeGateway, *volume.Manager) {
	t.Helper()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	volumes, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)
	gw := runtime.NewFakeGateway()

	p := NewPipeline(store, gw, volumes, nil)
	p.pullPolicy = retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, MaxRetries: 2}
	p.fetch.policy = retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, MaxRetries: 1}
	return p, store, gw, volumes
}

func boundSpec(id string) *types.WorkloadSpec {
	return &types.WorkloadSpec{
		ID:    id,
		Image: "docker.io/library/redis:7",
		PortBindings: map[int][]types.PortBinding{
			25565: {{HostPort: 30000}},
		},
	}
}

// TestRunProvisionsWorkload tests the full happy path: volume, pull, create,
// scripts, substitution, start, ready.
func TestRunProvisionsWorkload(t *testing.T) {
	p, store, gw, volumes := newTestPipeline(t)

	scripts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#!/bin/sh\necho port {{primaryPort}}\n"))
	}))
	defer scripts.Close()

	spec := boundSpec("w1")
	spec.Env = []string{"MODE=server"}
	spec.InstallScripts = []types.InstallScript{
		{URI: scripts.URL + "/install.sh", Destination: "install.sh"},
	}

	require.NoError(t, p.Run(context.Background(), spec, map[string]string{"WORLD": "alpha"}))

	rec := store.Get("w1")
	assert.Equal(t, types.StateReady, rec.State)
	require.NotEmpty(t, rec.ContainerID)
	assert.True(t, gw.Running(rec.ContainerID))

	// Volume exists and the fetched script had its placeholders rendered.
	assert.True(t, volumes.Exists("w1"))
	path, err := volumes.Path("w1")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(path, "install.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo port 30000")
	assert.NotContains(t, string(data), "{{primaryPort}}")

	// PRIMARY_PORT and the caller variable landed in the container env.
	info, err := gw.InspectContainer(context.Background(), rec.ContainerID)
	require.NoError(t, err)
	assert.Contains(t, info.Env, "PRIMARY_PORT=30000")
	assert.Contains(t, info.Env, "WORLD=alpha")
	assert.Contains(t, info.Env, "MODE=server")
}

// TestRunPullFailureRecordsFailed tests that a permanent pull failure fails
// the run before any container exists
func TestRunPullFailureRecordsFailed(t *testing.T) {
	p, store, gw, _ := newTestPipeline(t)
	gw.PullErr = func(ref string) error { return errors.New("manifest unknown") }

	err := p.Run(context.Background(), boundSpec("w1"), nil)
	require.Error(t, err)

	rec := store.Get("w1")
	assert.Equal(t, types.StateFailed, rec.State)
	assert.Empty(t, rec.ContainerID)
	assert.NotContains(t, gw.CallLog(), "create w1")
}

// TestRunPullRetriesTransient tests that a transiently failing pull succeeds
// on a later attempt
func TestRunPullRetriesTransient(t *testing.T) {
	p, store, gw, _ := newTestPipeline(t)

	failures := 0
	gw.PullErr = func(ref string) error {
		if failures < 2 {
			failures++
			return errdefs.Transient("pull", errors.New("registry unavailable"))
		}
		return nil
	}

	require.NoError(t, p.Run(context.Background(), boundSpec("w1"), nil))
	assert.Equal(t, 2, failures)
	assert.Equal(t, types.StateReady, store.Get("w1").State)
}

// TestRunScriptFailureIsNotFatal tests that a failed script download still
// converges to ready
func TestRunScriptFailureIsNotFatal(t *testing.T) {
	p, store, _, volumes := newTestPipeline(t)

	scripts := httptest.NewServer(http.NotFoundHandler())
	defer scripts.Close()

	spec := boundSpec("w2")
	spec.InstallScripts = []types.InstallScript{
		{URI: scripts.URL + "/missing.sh", Destination: "missing.sh"},
	}

	require.NoError(t, p.Run(context.Background(), spec, nil))
	assert.Equal(t, types.StateReady, store.Get("w2").State)

	path, err := volumes.Path("w2")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(path, "missing.sh"))
	assert.True(t, os.IsNotExist(err))
}

// TestRunScriptsRequireBinding tests that install scripts without a port
// binding are a configuration error caught before container creation
func TestRunScriptsRequireBinding(t *testing.T) {
	p, store, gw, _ := newTestPipeline(t)

	spec := &types.WorkloadSpec{
		ID:    "w3",
		Image: "docker.io/library/redis:7",
		InstallScripts: []types.InstallScript{
			{URI: "http://127.0.0.1:1/install.sh", Destination: "install.sh"},
		},
	}

	err := p.Run(context.Background(), spec, nil)
	assert.True(t, errdefs.IsConfig(err))
	assert.Equal(t, types.StateFailed, store.Get("w3").State)
	assert.NotContains(t, gw.CallLog(), "create w3")
}

// TestRunNoBindingNoScripts tests that a spec without bindings provisions
// fine when it has no scripts; PRIMARY_PORT is simply absent.
func TestRunNoBindingNoScripts(t *testing.T) {
	p, store, gw, _ := newTestPipeline(t)

	spec := &types.WorkloadSpec{ID: "w4", Image: "docker.io/library/redis:7", Env: []string{"A=1"}}
	require.NoError(t, p.Run(context.Background(), spec, nil))

	rec := store.Get("w4")
	assert.Equal(t, types.StateReady, rec.State)

	info, err := gw.InspectContainer(context.Background(), rec.ContainerID)
	require.NoError(t, err)
	for _, entry := range info.Env {
		assert.NotContains(t, entry, "PRIMARY_PORT")
	}
}

// TestRunStartFailureKeepsContainerID tests that a start failure records
// failed state together with the created container id
func TestRunStartFailureKeepsContainerID(t *testing.T) {
	p, store, gw, _ := newTestPipeline(t)
	gw.StartErr = func(containerID string) error { return errors.New("oci runtime error") }

	err := p.Run(context.Background(), boundSpec("w5"), nil)
	require.Error(t, err)

	rec := store.Get("w5")
	assert.Equal(t, types.StateFailed, rec.State)
	assert.NotEmpty(t, rec.ContainerID)
}
