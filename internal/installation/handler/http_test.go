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
	hbservice "fleet-control-plane/internal/heartbeat/service"
	"fleet-control-plane/internal/installation/service"
)

type stubInstaller struct {
	key   string
	rep   service.Report
	calls int
	out   *service.Outcome
	err   error
}

func (s *stubInstaller) UpdateRecoveryKey(_ context.Context, deviceID, key, _ string) (*devicedomain.Device, bool, error) {
	s.calls++
	s.key = key
	if s.err != nil {
		return nil, false, s.err
	}
	return &devicedomain.Device{ID: deviceID}, true, nil
}

func (s *stubInstaller) ReportDesktop(_ context.Context, deviceID string, rep service.Report) (*service.Outcome, error) {
	return s.report(deviceID, rep)
}

func (s *stubInstaller) ReportMobile(_ context.Context, deviceID string, rep service.Report) (*service.Outcome, error) {
	return s.report(deviceID, rep)
}

func (s *stubInstaller) report(deviceID string, rep service.Report) (*service.Outcome, error) {
	s.calls++
	s.rep = rep
	if s.err != nil {
		return nil, s.err
	}
	if s.out != nil {
		return s.out, nil
	}
	return &service.Outcome{Device: &devicedomain.Device{ID: deviceID}}, nil
}

func router(svc Installer) *mux.Router {
	h := NewHandler(svc, nil, nil)
	r := mux.NewRouter()
	r.HandleFunc("/api/devices/{device_id}/recovery-key/", h.RecoveryKey).Methods(http.MethodPost)
	r.HandleFunc("/api/devices/{device_id}/installation/desktop/", h.DesktopStatus).Methods(http.MethodPost)
	r.HandleFunc("/api/devices/{device_id}/installation/mobile/", h.MobileStatus).Methods(http.MethodPost)
	return r
}

func do(t *testing.T, r http.Handler, path, body string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestRecoveryKey(t *testing.T) {
	svc := &stubInstaller{}
	code, body := do(t, router(svc), "/api/devices/DESKTOP-1/recovery-key/", `{"disk_recovery_key":"123456-123456"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Recovery key secured.", body["message"])
	assert.Equal(t, "DESKTOP-1", body["device_id"])
	assert.Equal(t, "123456-123456", svc.key)
}

func TestRecoveryKey_Invalid(t *testing.T) {
	svc := &stubInstaller{}
	code, body := do(t, router(svc), "/api/devices/DESKTOP-1/recovery-key/", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid data", body["error"])
	assert.Contains(t, body["details"], "disk_recovery_key")
	assert.Zero(t, svc.calls)

	code, _ = do(t, router(svc), "/api/devices/DESKTOP-1/recovery-key/", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecoveryKey_DeviceNotFound(t *testing.T) {
	svc := &stubInstaller{err: devicedomain.ErrDeviceNotFound}
	code, body := do(t, router(svc), "/api/devices/NOPE/recovery-key/", `{"disk_recovery_key":"k"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Device not found", body["error"])
}

func TestDesktopStatus_WithNextPayment(t *testing.T) {
	svc := &stubInstaller{out: &service.Outcome{
		Device:      &devicedomain.Device{ID: "DESKTOP-1"},
		NextPayment: &hbservice.NextPayment{DateTime: "2026-03-15T23:59:00+03:00", UnlockPassword: "249824"},
		ServerTime:  time.Date(2026, 2, 15, 19, 34, 7, 0, time.FixedZone("EAT", 3*60*60)),
	}}
	code, body := do(t, router(svc), "/api/devices/DESKTOP-1/installation/desktop/",
		`{"recovery_keys":{"C":"1111","D":"2222"},"installation_status":{"completed":true,"reason":"Installation successful"}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DESKTOP-1", body["device_id"])
	assert.Equal(t, map[string]any{
		"server_time":     "2026-02-15T19:34:07+03:00",
		"date_time":       "2026-03-15T23:59:00+03:00",
		"unlock_password": "249824",
	}, body["next_payment"])

	assert.True(t, svc.rep.Completed)
	assert.Equal(t, "Installation successful", svc.rep.Reason)
	assert.JSONEq(t, `{"C":"1111","D":"2222"}`, string(svc.rep.RecoveryKeys))
}

func TestDesktopStatus_NoNextPayment(t *testing.T) {
	svc := &stubInstaller{}
	code, body := do(t, router(svc), "/api/devices/DESKTOP-1/installation/desktop/",
		`{"recovery_keys":{},"installation_status":{"completed":false,"reason":"Failed to enable BitLocker on drive D"}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"device_id": "DESKTOP-1"}, body)
	assert.False(t, svc.rep.Completed)
}

func TestDesktopStatus_BadRequests(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"missing keys", `{"installation_status":{"completed":true,"reason":"x"}}`, "recovery_keys field is required"},
		{"missing status", `{"recovery_keys":{}}`, "installation_status field is required"},
		{"empty status", `{"recovery_keys":{},"installation_status":{}}`, "installation_status field is required"},
		{"status not object", `{"recovery_keys":{},"installation_status":"done"}`, "installation_status must be a dictionary"},
		{"missing completed", `{"recovery_keys":{},"installation_status":{"reason":"x"}}`, "installation_status must contain 'completed' field"},
		{"missing reason", `{"recovery_keys":{},"installation_status":{"completed":true}}`, "installation_status must contain 'reason' field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubInstaller{}
			code, body := do(t, router(svc), "/api/devices/DESKTOP-1/installation/desktop/", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want, body["error"])
			assert.Equal(t, false, body["success"])
			assert.Zero(t, svc.calls)
		})
	}
}

func TestDesktopStatus_WrongDeviceClass(t *testing.T) {
	svc := &stubInstaller{err: &service.DeviceClassError{Class: service.ClassDesktop, DeviceType: devicedomain.TypePhone}}
	code, body := do(t, router(svc), "/api/devices/AND-1/installation/desktop/",
		`{"recovery_keys":{},"installation_status":{"completed":true,"reason":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "This endpoint is only for desktop/laptop devices", body["error"])
	assert.Equal(t, "phone", body["device_type"])
}

func TestMobileStatus_BothShapes(t *testing.T) {
	for _, payload := range []string{
		`{"completed":true,"reason":"Device Owner activated successfully"}`,
		`{"installation_status":{"completed":true,"reason":"Device Owner activated successfully"}}`,
	} {
		svc := &stubInstaller{}
		code, body := do(t, router(svc), "/api/devices/AND-1/installation/mobile/", payload)
		require.Equal(t, http.StatusOK, code, payload)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Installation status received", body["message"])
		assert.Equal(t, "AND-1", body["device_id"])
		assert.Equal(t, true, body["installation_completed"])
		assert.Equal(t, "Device Owner activated successfully", body["reason"])
		assert.Nil(t, svc.rep.RecoveryKeys)
	}
}

func TestMobileStatus_BadRequests(t *testing.T) {
	svc := &stubInstaller{}
	code, body := do(t, router(svc), "/api/devices/AND-1/installation/mobile/", `{"completed":true}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "'completed' and 'reason' fields are required")

	code, body = do(t, router(svc), "/api/devices/AND-1/installation/mobile/", `{"installation_status":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "installation_status must be a dictionary", body["error"])
	assert.Zero(t, svc.calls)
}

func TestMobileStatus_ServiceError(t *testing.T) {
	svc := &stubInstaller{err: errors.New("db down")}
	code, body := do(t, router(svc), "/api/devices/AND-1/installation/mobile/", `{"completed":false,"reason":"denied"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body["message"])
}
