// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	devicehandler "fleet-control-plane/internal/device/handler"
	hbhandler "fleet-control-plane/internal/heartbeat/handler"
	historyhandler "fleet-control-plane/internal/history/handler"
	insthandler "fleet-control-plane/internal/installation/handler"
	mgmthandler "fleet-control-plane/internal/management/handler"
	"fleet-control-plane/internal/platform/rbac"
	"fleet-control-plane/internal/server/middleware"
)

// Deps holds the handlers and credentials the router serves.
type Deps struct {
	Heartbeat  *hbhandler.Handler
	Devices    *devicehandler.Handler
	Management *mgmthandler.Handler
	History    *historyhandler.Handler
	// Installation serves the agent recovery key and installation reports. Optional.
	Installation *insthandler.Handler
	// Health answers GET /healthz. If nil the route is not registered.
	Health http.Handler

	// DeviceAPIKey is the shared agent key. An empty key makes device routes answer 500.
	DeviceAPIKey    string
	DeviceAPIHeader string
	// Tokens validates operator access tokens on admin routes.
	Tokens middleware.TokenValidator

	Log *zap.Logger
}

// NewRouter returns the HTTP handler for every device-facing and admin route,
// wrapped with request logging and OpenTelemetry instrumentation.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := mux.NewRouter()
	if d.Health != nil {
		r.Handle("/healthz", d.Health).Methods(http.MethodGet)
	}

	agent := r.PathPrefix("/api/devices").Subrouter()
	agent.Use(middleware.DeviceAPIKey(d.DeviceAPIKey, d.DeviceAPIHeader, log))
	agent.HandleFunc("/{device_id}/data/", d.Heartbeat.Heartbeat).Methods(http.MethodPost)
	agent.HandleFunc("/{category}/register/", d.Devices.Register).Methods(http.MethodPost)
	agent.HandleFunc("/{device_id}/deactivation/confirm/", d.Devices.ConfirmDeactivation).Methods(http.MethodPost)
	if d.Installation != nil {
		agent.HandleFunc("/{device_id}/recovery-key/", d.Installation.RecoveryKey).Methods(http.MethodPost)
		agent.HandleFunc("/{device_id}/installation/desktop/", d.Installation.DesktopStatus).Methods(http.MethodPost)
		agent.HandleFunc("/{device_id}/installation/mobile/", d.Installation.MobileStatus).Methods(http.MethodPost)
	}

	admin := r.PathPrefix("/api/devices").Subrouter()
	admin.Use(middleware.Bearer(d.Tokens))
	read := rbac.RequireRole(rbac.ReadRoles...)
	write := rbac.RequireRole(rbac.WriteRoles...)
	admin.Handle("/{device_id}/status/", read(http.HandlerFunc(d.Management.Status))).Methods(http.MethodGet)
	admin.Handle("/{device_id}/history/", read(http.HandlerFunc(d.History.List))).Methods(http.MethodGet)
	admin.Handle("/{device_id}/management/", write(http.HandlerFunc(d.Management.Manage))).Methods(http.MethodPost)
	admin.Handle("/{device_id}/deactivation/request/", write(http.HandlerFunc(d.Devices.RequestDeactivation))).Methods(http.MethodPost)

	return otelhttp.NewHandler(middleware.RequestLogger(log)(r), "fleet-http",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			if route := mux.CurrentRoute(req); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					return req.Method + " " + tpl
				}
			}
			return req.Method + " " + req.URL.Path
		}),
	)
}
