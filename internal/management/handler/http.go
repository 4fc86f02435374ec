// Package handler exposes device lock status and lock/unlock commands over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/management/domain"
	"fleet-control-plane/internal/platform/validate"
	"fleet-control-plane/internal/server/middleware"
	"fleet-control-plane/internal/server/respond"
)

// Manager is the management service surface used by the handlers.
type Manager interface {
	Status(ctx context.Context, deviceID string) (*devicedomain.Device, *domain.State, error)
	Lock(ctx context.Context, deviceID, actor, reason, ip string) error
	Unlock(ctx context.Context, deviceID, actor, ip string) error
}

// Handler serves the status and management endpoints.
type Handler struct {
	svc      Manager
	validate *validate.Validator
	log      *zap.Logger
}

// NewHandler returns a management handler. v and log may be nil.
func NewHandler(svc Manager, v *validate.Validator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if v == nil {
		v = validate.New()
	}
	return &Handler{svc: svc, validate: v, log: log}
}

// Status handles GET /api/devices/{device_id}/status/.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	dev, st, err := h.svc.Status(r.Context(), deviceID)
	switch {
	case errors.Is(err, devicedomain.ErrDeviceNotFound):
		respond.Fail(w, http.StatusNotFound, map[string]any{"error": "Device not found"})
		return
	case err != nil:
		h.log.Error("device status failed", zap.String("device_id", deviceID), zap.Error(err))
		respond.Fail(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"device": map[string]any{
			"id":                   dev.ID,
			"type":                 dev.DeviceType,
			"model":                strings.TrimSpace(dev.Manufacturer + " " + dev.Model),
			"is_online":            dev.IsOnline,
			"last_seen":            dev.LastSeenAt,
			"ip_address":           nullable(dev.IPAddress),
			"is_locked":            dev.IsLocked,
			"deactivate_requested": dev.DeactivateRequested,
			"deactivated_at":       dev.DeactivatedAt,
		},
		"management": managementInfo(st),
	})
}

func managementInfo(st *domain.State) map[string]any {
	if st == nil {
		return map[string]any{
			"status":          domain.StatusActive,
			"block_reason":    nil,
			"blocked_at":      nil,
			"blocked_by":      nil,
			"last_command":    nil,
			"last_command_at": nil,
		}
	}
	return map[string]any{
		"status":          st.Status,
		"block_reason":    nullable(st.BlockReason),
		"blocked_at":      st.BlockedAt,
		"blocked_by":      nullable(st.LockedBy),
		"last_command":    nullable(st.LastCommand),
		"last_command_at": st.LastCommandAt,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type manageRequest struct {
	Action string `json:"action" validate:"required,oneof=lock unlock"`
	Reason string `json:"reason" validate:"max=500"`
}

// Manage handles POST /api/devices/{device_id}/management/.
func (h *Handler) Manage(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	var req manageRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}
	if errs := h.validate.Struct(req); errs != nil {
		respond.Fail(w, http.StatusBadRequest, map[string]any{"message": "Invalid management request.", "errors": errs})
		return
	}
	actor, _ := middleware.Subject(r.Context())
	ip := middleware.ClientIP(r)

	var (
		err     error
		message string
		status  domain.Status
	)
	if req.Action == "lock" {
		err = h.svc.Lock(r.Context(), deviceID, actor, req.Reason, ip)
		message, status = "Device locked successfully", domain.StatusLocked
	} else {
		err = h.svc.Unlock(r.Context(), deviceID, actor, ip)
		message, status = "Device unlocked successfully", domain.StatusActive
	}

	switch {
	case errors.Is(err, devicedomain.ErrDeviceNotFound):
		respond.Fail(w, http.StatusNotFound, map[string]any{"error": "Device not found"})
	case errors.Is(err, domain.ErrAlreadyLocked):
		respond.Fail(w, http.StatusBadRequest, map[string]any{"error": "Device is already locked"})
	case errors.Is(err, domain.ErrNotLocked):
		respond.Fail(w, http.StatusBadRequest, map[string]any{"error": "Device is not locked"})
	case err != nil:
		h.log.Error("device management failed",
			zap.String("device_id", deviceID),
			zap.String("action", req.Action),
			zap.Error(err),
		)
		respond.Fail(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
	default:
		respond.JSON(w, http.StatusOK, map[string]any{
			"success":           true,
			"message":           message,
			"management_status": status,
			"is_locked":         status == domain.StatusLocked,
		})
	}
}
