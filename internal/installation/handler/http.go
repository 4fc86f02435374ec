// Package handler exposes the agent installation endpoints: recovery key escrow
// and the desktop and mobile installation reports.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/installation/service"
	"fleet-control-plane/internal/platform/validate"
	"fleet-control-plane/internal/server/middleware"
	"fleet-control-plane/internal/server/respond"
)

// Installer is the installation service surface used by the handlers.
type Installer interface {
	UpdateRecoveryKey(ctx context.Context, deviceID, key, ip string) (*devicedomain.Device, bool, error)
	ReportDesktop(ctx context.Context, deviceID string, rep service.Report) (*service.Outcome, error)
	ReportMobile(ctx context.Context, deviceID string, rep service.Report) (*service.Outcome, error)
}

// Handler serves the installation endpoints.
type Handler struct {
	svc      Installer
	validate *validate.Validator
	log      *zap.Logger
}

// NewHandler returns an installation handler. v and log may be nil.
func NewHandler(svc Installer, v *validate.Validator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if v == nil {
		v = validate.New()
	}
	return &Handler{svc: svc, validate: v, log: log}
}

type recoveryKeyRequest struct {
	DiskRecoveryKey string `json:"disk_recovery_key" validate:"required,max=2048"`
}

// RecoveryKey handles POST /api/devices/{device_id}/recovery-key/.
func (h *Handler) RecoveryKey(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	var req recoveryKeyRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}
	if errs := h.validate.Struct(req); errs != nil {
		respond.Fail(w, http.StatusBadRequest, map[string]any{"error": "Invalid data", "details": errs})
		return
	}

	dev, _, err := h.svc.UpdateRecoveryKey(r.Context(), deviceID, req.DiskRecoveryKey, middleware.ClientIP(r))
	if err != nil {
		h.serviceError(w, deviceID, "recovery key update failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Recovery key secured.",
		"device_id": dev.ID,
	})
}

// DesktopStatus handles POST /api/devices/{device_id}/installation/desktop/.
// Body: {"recovery_keys": {...}, "installation_status": {"completed": bool, "reason": string}}.
func (h *Handler) DesktopStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	payload, err := respond.DecodeObject(w, r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}
	keys, ok := payload["recovery_keys"]
	if !ok || keys == nil {
		badRequest(w, "recovery_keys field is required")
		return
	}
	if isBlank(payload["installation_status"]) {
		badRequest(w, "installation_status field is required")
		return
	}
	status, ok := payload["installation_status"].(map[string]any)
	if !ok {
		badRequest(w, "installation_status must be a dictionary")
		return
	}
	rep, msg := parseStatus(status)
	if msg != "" {
		badRequest(w, msg)
		return
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		badRequest(w, "recovery_keys is invalid")
		return
	}
	rep.RecoveryKeys = raw
	rep.IPAddress = middleware.ClientIP(r)

	out, err := h.svc.ReportDesktop(r.Context(), deviceID, rep)
	if err != nil {
		h.serviceError(w, deviceID, "desktop installation report failed", err)
		return
	}
	body := map[string]any{"device_id": out.Device.ID}
	if out.NextPayment != nil {
		body["next_payment"] = map[string]any{
			"server_time":     out.ServerTime.Format(time.RFC3339),
			"date_time":       out.NextPayment.DateTime,
			"unlock_password": out.NextPayment.UnlockPassword,
		}
	}
	respond.JSON(w, http.StatusOK, body)
}

// MobileStatus handles POST /api/devices/{device_id}/installation/mobile/.
// The outcome may be wrapped in "installation_status" or sent as top level
// "completed" and "reason" fields.
func (h *Handler) MobileStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	payload, err := respond.DecodeObject(w, r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}

	var rep service.Report
	var msg string
	switch wrapped := payload["installation_status"]; {
	case isBlank(wrapped):
		_, hasCompleted := payload["completed"]
		_, hasReason := payload["reason"]
		if !hasCompleted || !hasReason {
			badRequest(w, "Either 'installation_status' object or 'completed' and 'reason' fields are required")
			return
		}
		rep, msg = parseStatus(payload)
	default:
		status, ok := wrapped.(map[string]any)
		if !ok {
			badRequest(w, "installation_status must be a dictionary")
			return
		}
		rep, msg = parseStatus(status)
	}
	if msg != "" {
		badRequest(w, msg)
		return
	}
	rep.IPAddress = middleware.ClientIP(r)

	out, err := h.svc.ReportMobile(r.Context(), deviceID, rep)
	if err != nil {
		h.serviceError(w, deviceID, "mobile installation report failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":                true,
		"message":                "Installation status received",
		"device_id":              out.Device.ID,
		"installation_completed": rep.Completed,
		"reason":                 rep.Reason,
	})
}

func (h *Handler) serviceError(w http.ResponseWriter, deviceID, logMsg string, err error) {
	var class *service.DeviceClassError
	switch {
	case errors.Is(err, devicedomain.ErrDeviceNotFound):
		respond.Fail(w, http.StatusNotFound, map[string]any{"error": "Device not found"})
	case errors.As(err, &class):
		respond.Fail(w, http.StatusBadRequest, map[string]any{
			"error":       class.Error(),
			"device_type": class.DeviceType,
		})
	default:
		h.log.Error(logMsg, zap.String("device_id", deviceID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

// parseStatus reads "completed" and "reason". msg is non-empty when one is missing.
func parseStatus(m map[string]any) (rep service.Report, msg string) {
	completed, ok := m["completed"]
	if !ok {
		return rep, "installation_status must contain 'completed' field"
	}
	reason, ok := m["reason"]
	if !ok {
		return rep, "installation_status must contain 'reason' field"
	}
	rep.Completed = truthy(completed)
	rep.Reason, _ = reason.(string)
	return rep, ""
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b != ""
	}
	return false
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func badRequest(w http.ResponseWriter, msg string) {
	respond.Fail(w, http.StatusBadRequest, map[string]any{"error": msg})
}
