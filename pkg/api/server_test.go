package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchlabs/hutch/pkg/files"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/orchestrator"
	"github.com/hutchlabs/hutch/pkg/provision"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/state"
	"github.com/hutchlabs/hutch/pkg/types"
	"github.com/hutchlabs/hutch/pkg/volume"
)

const testToken = "control-token"

type testHarness struct {
	mux   *http.ServeMux
	orch  *orchestrator.Orchestrator
	store *state.Store
	gw    *runtime.FakeGateway
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	volumes, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)
	gw := runtime.NewFakeGateway()

	orch := orchestrator.New(orchestrator.Config{
		Store:    store,
		Gateway:  gw,
		Volumes:  volumes,
		Pipeline: provision.NewPipeline(store, gw, volumes, nil),
	})

	srv := NewServer(Config{
		Orchestrator: orch,
		Files:        files.NewManager(volumes),
		Health:       metrics.NewHealthTracker("test"),
		AuthToken:    testToken,
	})

	mux := http.NewServeMux()
	srv.Routes(mux)
	return &testHarness{mux: mux, orch: orch, store: store, gw: gw}
}

func (h *testHarness) do(t *testing.T, method, target string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}

	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func createBody(id string) map[string]any {
	return map[string]any{
		"id":    id,
		"image": "docker.io/library/redis:7",
		"portBindings": map[string]any{
			"25565": []map[string]any{{"hostPort": 30000}},
		},
	}
}

// TestAuthRequired tests that control routes reject missing or wrong tokens
func TestAuthRequired(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		target string
	}{
		{"create", http.MethodPost, "/create"},
		{"remove", http.MethodDelete, "/remove/w1"},
		{"state", http.MethodGet, "/state/w1"},
		{"power", http.MethodPost, "/power/w1/start"},
		{"files list", http.MethodGet, "/files/w1/list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.target, nil, false)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

// TestHealthIsOpen tests that the status endpoint needs no token
func TestHealthIsOpen(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	var status metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
}

// TestCreateAccepted tests the async create contract
func TestCreateAccepted(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/create", createBody("w1"), true)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "w1", resp.VolumeID)
	assert.Equal(t, string(types.StateInstalling), resp.State)

	h.orch.Drain()

	w = h.do(t, http.MethodGet, "/state/w1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.StateReady), resp.State)
	assert.NotEmpty(t, resp.ContainerID)
}

// TestCreateRejectsBadBody tests request validation status codes and that
// failure bodies carry the cause under the message key
func TestCreateRejectsBadBody(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/create", bytes.NewBufferString("{broken"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["message"], "failed to decode request body")
	assert.NotContains(t, body, "error")

	// Valid JSON, invalid spec.
	w2 := h.do(t, http.MethodPost, "/create", map[string]any{"id": "w1"}, true)
	assert.Equal(t, http.StatusBadRequest, w2.Code)

	body = map[string]string{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body))
	assert.NotEmpty(t, body["message"])
}

// TestRemoveIsIdempotent tests that removing twice answers 200 both times
func TestRemoveIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/create", createBody("w1"), true)
	h.orch.Drain()

	w := h.do(t, http.MethodDelete, "/remove/w1", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodDelete, "/remove/w1", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestStateUnknownWorkload tests that state queries never error
func TestStateUnknownWorkload(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/state/ghost", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.StateUnknown), resp.State)
}

// TestPowerErrorMapping tests the taxonomy-to-status mapping
func TestPowerErrorMapping(t *testing.T) {
	h := newHarness(t)

	// No container bound yet: 404.
	w := h.do(t, http.MethodPost, "/power/ghost/start", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.do(t, http.MethodPost, "/create", createBody("w1"), true)
	h.orch.Drain()

	// Unknown action: 400.
	w = h.do(t, http.MethodPost, "/power/w1/hibernate", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/power/w1/stop", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestEditRoute tests the edit round trip through the API
func TestEditRoute(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/create", createBody("w1"), true)
	h.orch.Drain()

	w := h.do(t, http.MethodPut, "/edit/w1", map[string]any{"image": "docker.io/library/redis:8"}, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.ContainerID)

	info, err := h.gw.InspectContainer(context.Background(), resp.ContainerID)
	require.NoError(t, err)
	assert.Equal(t, "docker.io/library/redis:8", info.Image)
}

// TestFileRoutes tests write, list, read and delete against a volume
func TestFileRoutes(t *testing.T) {
	h := newHarness(t)

	h.do(t, http.MethodPost, "/create", createBody("w1"), true)
	h.orch.Drain()

	// Write raw bytes.
	req := httptest.NewRequest(http.MethodPost, "/files/w1/write?path=server.properties", bytes.NewBufferString("motd=hello"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// List shows it.
	w = h.do(t, http.MethodGet, "/files/w1/list?path=", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []files.Entry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "server.properties", entries[0].Name)

	// Read it back.
	w = h.do(t, http.MethodGet, "/files/w1/contents?path=server.properties", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "motd=hello", w.Body.String())

	// Traversal collapses inside the volume instead of escaping it.
	w = h.do(t, http.MethodGet, "/files/w1/contents?path=../../etc/passwd", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Delete.
	w = h.do(t, http.MethodDelete, "/files/w1/delete?path=server.properties", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodGet, "/files/w1/contents?path=server.properties", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
