package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitbridge/jitbridge/pkg/events"
	"github.com/jitbridge/jitbridge/pkg/orchestrator"
	"github.com/jitbridge/jitbridge/pkg/registry"
	"github.com/jitbridge/jitbridge/pkg/runner"
	"github.com/jitbridge/jitbridge/pkg/session"
	"github.com/jitbridge/jitbridge/pkg/storage"
	"github.com/jitbridge/jitbridge/pkg/types"
	"github.com/jitbridge/jitbridge/pkg/wireguard"
)

const testUDID = "00008110-000A1D0E3A88801E"

func pairingBlob(udid string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>UDID</key>
	<string>%s</string>
	<key>HostID</key>
	<string>F0E95A5C-6B5E-4E5C-BD39-0E41E0F8A6C8</string>
</dict>
</plist>`, udid)
}

func newTestServer(t *testing.T, workerScript string, cooldown time.Duration) (*Server, *orchestrator.Orchestrator) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.NewRegistry(store)
	prov, err := wireguard.NewProvisioner(reg, wireguard.NewFakeApplier(), wireguard.Config{
		PoolCIDR:   "fd42:6a69:7462::/64",
		Endpoint:   "jit.example.com:51820",
		AllowedIPs: "fd42:6a69:7462::/64",
		MaxDevices: 16,
	})
	require.NoError(t, err)

	sessions := session.NewManager(session.Config{Cooldown: cooldown, Retention: time.Hour})

	pool := runner.NewPool(runner.Config{
		Capacity: 2,
		Timeout:  10 * time.Second,
		Command:  "/bin/sh",
		Args:     []string{"-c", workerScript},
	})
	pool.Start()
	t.Cleanup(pool.Shutdown)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	orch := orchestrator.New(reg, prov, sessions, pool, broker, nil, orchestrator.Config{
		JobTimeout: 10 * time.Second,
		PairingDir: t.TempDir(),
	})
	return NewServer(orch, reg, "test"), orch
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRegisterEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodPost, "/register", pairingBlob(testUDID))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, w.Header().Get("Content-Disposition"), "jitbridge.conf")
	assert.Contains(t, w.Body.String(), "[Interface]")
	assert.Contains(t, w.Body.String(), "Endpoint = jit.example.com:51820")
}

func TestRegisterEndpointBadBlob(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodPost, "/register", "not a plist")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPost, "/register", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterEndpointPolicyRejections(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)
	s.registry.SetPolicy(types.RegistrationPolicy{Mode: types.RegistrationDisabled})

	w := do(s, http.MethodPost, "/register", pairingBlob(testUDID))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestActivateEndpoint(t *testing.T) {
	s, orch := newTestServer(t, "exit 0", 0)

	_, err := orch.RegisterDevice([]byte(pairingBlob(testUDID)))
	require.NoError(t, err)

	w := do(s, http.MethodPost, "/activate/"+testUDID, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "dispatched", resp["status"])
	sessionID := resp["session_id"].(string)
	assert.NotEmpty(t, sessionID)

	// Poll status until the session settles
	require.Eventually(t, func() bool {
		w := do(s, http.MethodGet, "/status/"+testUDID, "")
		if w.Code != http.StatusOK {
			return false
		}
		return decode(t, w)["status"] == "activated"
	}, 10*time.Second, 20*time.Millisecond)

	w = do(s, http.MethodGet, "/status/"+testUDID, "")
	resp = decode(t, w)
	assert.Equal(t, sessionID, resp["session_id"])
	assert.NotContains(t, resp, "error")
}

func TestActivateEndpointUnknownDevice(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodPost, "/activate/udid-unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActivateEndpointTooSoon(t *testing.T) {
	s, orch := newTestServer(t, "exit 0", time.Hour)

	_, err := orch.RegisterDevice([]byte(pairingBlob(testUDID)))
	require.NoError(t, err)

	handle, err := orch.Activate(testUDID)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = orch.Await(ctx, handle)
	require.NoError(t, err)

	w := do(s, http.MethodPost, "/activate/"+testUDID, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "too_soon", decode(t, w)["status"])
}

func TestStatusEndpointFailureDetail(t *testing.T) {
	s, orch := newTestServer(t, "echo image mount failed >&2; exit 1", 0)

	_, err := orch.RegisterDevice([]byte(pairingBlob(testUDID)))
	require.NoError(t, err)

	handle, err := orch.Activate(testUDID)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = orch.Await(ctx, handle)
	require.NoError(t, err)

	w := do(s, http.MethodGet, "/status/"+testUDID, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "failed", resp["status"])
	assert.Contains(t, resp["error"], "image mount failed")
}

func TestStatusEndpointUnknown(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodGet, "/status/udid-unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDevicesEndpoints(t *testing.T) {
	s, orch := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["devices"])

	_, err := orch.RegisterDevice([]byte(pairingBlob(testUDID)))
	require.NoError(t, err)

	w = do(s, http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	devices := decode(t, w)["devices"].([]interface{})
	require.Len(t, devices, 1)
	assert.Equal(t, testUDID, devices[0].(map[string]interface{})["udid"])

	w = do(s, http.MethodDelete, "/devices/"+testUDID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodDelete, "/devices/"+testUDID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVersionEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", decode(t, w)["version"])
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodGet, "/healthz", "")
	assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, w.Code)
	resp := decode(t, w)
	assert.Contains(t, resp, "status")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "exit 0", 0)

	w := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jitbridge_")
}
