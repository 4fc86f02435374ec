// Package handler serves the device audit trail over HTTP.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/history/domain"
	historyrepo "fleet-control-plane/internal/history/repository"
	"fleet-control-plane/internal/server/respond"
)

const (
	defaultDays = 7
	maxDays     = 365
)

// DeviceGetter resolves devices by id.
type DeviceGetter interface {
	GetByID(ctx context.Context, id string) (*devicedomain.Device, error)
}

// Lister reads history entries newest first.
type Lister interface {
	ListByDevice(ctx context.Context, deviceID string, f historyrepo.ListFilter) ([]*domain.Entry, error)
}

// Handler serves GET /api/devices/{device_id}/history/.
type Handler struct {
	devices DeviceGetter
	entries Lister
	now     func() time.Time
	log     *zap.Logger
}

// NewHandler returns a history handler. log may be nil.
func NewHandler(devices DeviceGetter, entries Lister, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{devices: devices, entries: entries, now: time.Now, log: log}
}

type entryView struct {
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	Actor         *string        `json:"actor"`
	Notes         string         `json:"notes"`
	ChangedFields []string       `json:"changed_fields"`
	OldValues     map[string]any `json:"old_values"`
	NewValues     map[string]any `json:"new_values"`
	IPAddress     *string        `json:"ip_address"`
	CreatedAt     time.Time      `json:"created_at"`
}

func view(e *domain.Entry) entryView {
	v := entryView{
		ID:            e.ID,
		Action:        e.Action,
		Notes:         e.Notes,
		ChangedFields: e.ChangedFields,
		OldValues:     e.OldValues,
		NewValues:     e.NewValues,
		CreatedAt:     e.CreatedAt,
	}
	if v.ChangedFields == nil {
		v.ChangedFields = []string{}
	}
	if e.Actor != "" {
		v.Actor = &e.Actor
	}
	if e.IPAddress != "" {
		v.IPAddress = &e.IPAddress
	}
	return v
}

// ParseDays reads the days window. Values outside 1..365 or unparsable fall back to 7.
func ParseDays(raw string) int {
	if raw == "" {
		return defaultDays
	}
	d, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || d < 1 || d > maxDays {
		return defaultDays
	}
	return d
}

// List handles GET /api/devices/{device_id}/history/?action=&days=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	dev, err := h.devices.GetByID(r.Context(), deviceID)
	if err != nil {
		h.fail(w, deviceID, err)
		return
	}
	if dev == nil {
		respond.Fail(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("Device '%s' not found", deviceID)})
		return
	}

	q := r.URL.Query()
	action := strings.TrimSpace(q.Get("action"))
	days := ParseDays(q.Get("days"))
	entries, err := h.entries.ListByDevice(r.Context(), dev.ID, historyrepo.ListFilter{
		Action: action,
		Since:  h.now().UTC().AddDate(0, 0, -days),
	})
	if err != nil {
		h.fail(w, dev.ID, err)
		return
	}

	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, view(e))
	}
	var actionFilter any
	if action != "" {
		actionFilter = action
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"device_id":       dev.ID,
		"device_name":     strings.TrimSpace(dev.Manufacturer + " " + dev.Model),
		"total_entries":   len(out),
		"history":         out,
		"period_days":     days,
		"filters_applied": map[string]any{"action": actionFilter, "days": days},
	})
}

func (h *Handler) fail(w http.ResponseWriter, deviceID string, err error) {
	h.log.Error("device history failed", zap.String("device_id", deviceID), zap.Error(err))
	respond.Fail(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
}
