package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/management/domain"
	"fleet-control-plane/internal/server/middleware"
)

type stubManager struct {
	dev    *devicedomain.Device
	state  *domain.State
	err    error
	calls  []string
	actor  string
	reason string
}

func (s *stubManager) Status(context.Context, string) (*devicedomain.Device, *domain.State, error) {
	return s.dev, s.state, s.err
}

func (s *stubManager) Lock(_ context.Context, _, actor, reason, _ string) error {
	s.calls = append(s.calls, "lock")
	s.actor, s.reason = actor, reason
	return s.err
}

func (s *stubManager) Unlock(_ context.Context, _, actor, _ string) error {
	s.calls = append(s.calls, "unlock")
	s.actor = actor
	return s.err
}

func serve(t *testing.T, m Manager, req *http.Request) (int, map[string]any) {
	t.Helper()
	h := NewHandler(m, nil, nil)
	r := mux.NewRouter()
	r.HandleFunc("/api/devices/{device_id}/status/", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{device_id}/management/", h.Manage).Methods(http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func manage(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/devices/AND-1/management/", strings.NewReader(body))
	return req.WithContext(middleware.WithIdentity(req.Context(), "ops-bob", "operator"))
}

func TestStatus_NeverManaged(t *testing.T) {
	m := &stubManager{dev: &devicedomain.Device{
		ID: "AND-1", DeviceType: devicedomain.TypePhone, Manufacturer: "Samsung", Model: "Galaxy A14",
	}}
	code, body := serve(t, m, httptest.NewRequest(http.MethodGet, "/api/devices/AND-1/status/", nil))

	require.Equal(t, http.StatusOK, code)
	dev := body["device"].(map[string]any)
	assert.Equal(t, "Samsung Galaxy A14", dev["model"])
	assert.Equal(t, "phone", dev["type"])
	assert.Nil(t, dev["ip_address"])
	mgmt := body["management"].(map[string]any)
	assert.Equal(t, "active", mgmt["status"])
	assert.Nil(t, mgmt["blocked_by"])
}

func TestStatus_Locked(t *testing.T) {
	at := time.Date(2026, 2, 5, 11, 30, 0, 0, time.UTC)
	m := &stubManager{
		dev: &devicedomain.Device{ID: "AND-1", IsLocked: true},
		state: &domain.State{
			Status: domain.StatusLocked, BlockReason: "Auto-locked: serial mismatch", BlockedAt: &at,
			LastCommand: domain.CommandLock, LastCommandAt: &at,
		},
	}
	_, body := serve(t, m, httptest.NewRequest(http.MethodGet, "/api/devices/AND-1/status/", nil))
	mgmt := body["management"].(map[string]any)
	assert.Equal(t, "locked", mgmt["status"])
	assert.Equal(t, "LOCK", mgmt["last_command"])
	assert.Equal(t, "2026-02-05T11:30:00Z", mgmt["blocked_at"])
	assert.Equal(t, true, body["device"].(map[string]any)["is_locked"])
}

func TestStatus_NotFound(t *testing.T) {
	code, body := serve(t, &stubManager{err: devicedomain.ErrDeviceNotFound},
		httptest.NewRequest(http.MethodGet, "/api/devices/NOPE/status/", nil))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Device not found", body["error"])
}

func TestManage_Lock(t *testing.T) {
	m := &stubManager{}
	code, body := serve(t, m, manage(`{"action":"lock","reason":"missed payments"}`))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Device locked successfully", body["message"])
	assert.Equal(t, "locked", body["management_status"])
	assert.Equal(t, true, body["is_locked"])
	assert.Equal(t, []string{"lock"}, m.calls)
	assert.Equal(t, "ops-bob", m.actor)
	assert.Equal(t, "missed payments", m.reason)
}

func TestManage_Unlock(t *testing.T) {
	m := &stubManager{}
	code, body := serve(t, m, manage(`{"action":"unlock"}`))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Device unlocked successfully", body["message"])
	assert.Equal(t, false, body["is_locked"])
	assert.Equal(t, []string{"unlock"}, m.calls)
}

func TestManage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"already locked", `{"action":"lock"}`, domain.ErrAlreadyLocked, http.StatusBadRequest, "Device is already locked"},
		{"not locked", `{"action":"unlock"}`, domain.ErrNotLocked, http.StatusBadRequest, "Device is not locked"},
		{"not found", `{"action":"lock"}`, devicedomain.ErrDeviceNotFound, http.StatusNotFound, "Device not found"},
		{"storage", `{"action":"lock"}`, errors.New("conn reset"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serve(t, &stubManager{err: tt.err}, manage(tt.body))
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, body["error"])
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestManage_RejectsUnknownAction(t *testing.T) {
	m := &stubManager{}
	code, body := serve(t, m, manage(`{"action":"wipe"}`))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"action": `"wipe" is not a valid choice.`}, body["errors"])
	assert.Empty(t, m.calls)

	code, body = serve(t, m, manage(`{}`))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"action": "This field is required."}, body["errors"])
}
