// Package handler exposes device registration and Device Owner deactivation over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	categorydomain "fleet-control-plane/internal/category/domain"
	"fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/device/service"
	"fleet-control-plane/internal/integrity"
	loandomain "fleet-control-plane/internal/loan/domain"
	"fleet-control-plane/internal/platform/validate"
	"fleet-control-plane/internal/server/middleware"
	"fleet-control-plane/internal/server/respond"
)

// DeviceService is the device service surface used by the handlers.
type DeviceService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.Registration, error)
	RequestDeactivation(ctx context.Context, deviceID, actor, reason, ip string) (*domain.Device, error)
	ConfirmDeactivation(ctx context.Context, deviceID, status, message, ip string) (*service.Confirmation, error)
}

// Handler serves the device endpoints.
type Handler struct {
	svc      DeviceService
	validate *validate.Validator
	now      func() time.Time
	log      *zap.Logger
}

// NewHandler returns a device handler. log may be nil.
func NewHandler(svc DeviceService, v *validate.Validator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if v == nil {
		v = validate.New()
	}
	return &Handler{svc: svc, validate: v, now: time.Now, log: log}
}

// Register handles POST /api/devices/{category}/register/.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]
	payload, err := respond.DecodeObject(w, r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}

	reg, err := h.svc.Register(r.Context(), service.RegisterInput{
		Category:  category,
		Payload:   payload,
		IPAddress: middleware.ClientIP(r),
	})
	if err != nil {
		h.registrationError(w, category, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"message":   "Device registered successfully",
		"data":      reg.Data,
		"device_id": reg.Device.ID,
	})
}

func (h *Handler) registrationError(w http.ResponseWriter, category string, err error) {
	var (
		unexpected *integrity.UnexpectedFieldsError
		invalid    *service.ValidationError
	)
	switch {
	case errors.As(err, &unexpected):
		respond.Fail(w, http.StatusBadRequest, map[string]any{
			"message":      "Unexpected fields for this device category.",
			"extra_fields": unexpected.Fields,
		})
	case errors.Is(err, loandomain.ErrLoanNotFound):
		loanError(w, "Loan not found")
	case errors.Is(err, loandomain.ErrLoanCompleted):
		loanError(w, "Cannot register for completed loan")
	case errors.As(err, &invalid):
		body := map[string]any{"message": invalid.Message}
		if invalid.Field != "" {
			body["field"] = invalid.Field
		}
		if len(invalid.Errors) > 0 {
			body["errors"] = invalid.Errors
		}
		respond.Fail(w, http.StatusBadRequest, body)
	case errors.Is(err, categorydomain.ErrCategoryNotFound):
		respond.Error(w, http.StatusBadRequest, "Invalid loan or category.")
	case errors.Is(err, domain.ErrDeviceExists):
		respond.Fail(w, http.StatusConflict, map[string]any{
			"message": "Device already registered.",
			"field":   "device_id",
		})
	default:
		h.log.Error("device registration failed", zap.String("category", category), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "Failed to register device. Please contact support.")
	}
}

func loanError(w http.ResponseWriter, msg string) {
	respond.Fail(w, http.StatusBadRequest, map[string]any{
		"message": msg,
		"field":   "loan_number",
		"errors":  map[string][]string{"loan_number": {msg}},
	})
}

type confirmRequest struct {
	Status  string `json:"status" validate:"required,oneof=success failed"`
	Message string `json:"message" validate:"max=1000"`
}

// ConfirmDeactivation handles POST /api/devices/{device_id}/deactivation/confirm/.
func (h *Handler) ConfirmDeactivation(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	var req confirmRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}
	if errs := h.validate.Struct(req); errs != nil {
		respond.Fail(w, http.StatusBadRequest, map[string]any{"message": "Invalid confirmation data.", "errors": errs})
		return
	}

	c, err := h.svc.ConfirmDeactivation(r.Context(), deviceID, req.Status, req.Message, middleware.ClientIP(r))
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		deviceNotFound(w, deviceID)
		return
	case err != nil:
		h.log.Error("deactivation confirm failed", zap.String("device_id", deviceID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if c.WillRetry {
		respond.Fail(w, http.StatusBadRequest, map[string]any{
			"message":    "Device Owner deactivation failed: " + req.Message,
			"device_id":  c.Device.ID,
			"will_retry": true,
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Device Owner deactivation confirmed successfully. Device is now free from management.",
		"device_id":      c.Device.ID,
		"deactivated_at": c.DeactivatedAt,
	})
}

type deactivationRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RequestDeactivation handles POST /api/devices/{device_id}/deactivation/request/.
func (h *Handler) RequestDeactivation(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	var req deactivationRequest
	if err := respond.Decode(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}
	if errs := h.validate.Struct(req); errs != nil {
		respond.Fail(w, http.StatusBadRequest, map[string]any{"message": "Invalid request data.", "errors": errs})
		return
	}
	actor, _ := middleware.Subject(r.Context())

	dev, err := h.svc.RequestDeactivation(r.Context(), deviceID, actor, req.Reason, middleware.ClientIP(r))
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		deviceNotFound(w, deviceID)
		return
	case errors.Is(err, domain.ErrAlreadyDeactivated):
		respond.Fail(w, http.StatusBadRequest, map[string]any{
			"error":          "Device is already deactivated",
			"deactivated_at": dev.DeactivatedAt,
		})
		return
	case err != nil:
		h.log.Error("deactivation request failed", zap.String("device_id", deviceID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"message":              "Device Owner deactivation requested successfully. Device will receive command on next heartbeat.",
		"device_id":            dev.ID,
		"deactivate_requested": dev.DeactivateRequested,
		"requested_at":         h.now().UTC(),
	})
}

func deviceNotFound(w http.ResponseWriter, deviceID string) {
	respond.Fail(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("Device '%s' not found", deviceID)})
}
