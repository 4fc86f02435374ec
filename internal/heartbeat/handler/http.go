// Package handler exposes the agent heartbeat endpoint.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/heartbeat/service"
	"fleet-control-plane/internal/server/middleware"
	"fleet-control-plane/internal/server/respond"
)

// Processor handles one heartbeat.
type Processor interface {
	Process(ctx context.Context, hb service.Heartbeat) (*service.Response, error)
}

// Handler serves POST /api/devices/{device_id}/data/.
type Handler struct {
	svc Processor
	log *zap.Logger
}

// NewHandler returns a heartbeat handler. log may be nil.
func NewHandler(svc Processor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// Heartbeat processes an agent report and returns the lock, deactivation and payment state.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	payload, err := respond.DecodeObject(w, r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.InvalidBodyMessage)
		return
	}

	resp, err := h.svc.Process(r.Context(), service.Heartbeat{
		DeviceID:  deviceID,
		Payload:   payload,
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	switch {
	case err == nil:
		respond.JSON(w, http.StatusOK, resp)
	case errors.Is(err, devicedomain.ErrDeviceNotFound):
		respond.Fail(w, http.StatusNotFound, map[string]any{
			"error":   fmt.Sprintf("Device '%s' not found", deviceID),
			"message": "Please ensure the device is registered before sending heartbeats",
		})
	default:
		h.log.Error("heartbeat failed", zap.String("device_id", deviceID), zap.Error(err))
		respond.Fail(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": "An error occurred processing the heartbeat",
		})
	}
}
