// Package handler serves readiness over the standard gRPC health protocol and HTTP /healthz.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const pingTimeout = 2 * time.Second

// Pinger reports database reachability (e.g. *sqlx.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server owns the gRPC health status. The overall ("") service is SERVING
// while the pinger succeeds and NOT_SERVING otherwise.
type Server struct {
	pinger Pinger
	health *health.Server
	log    *zap.Logger
}

// NewServer returns a health server. A nil pinger always reports healthy. log may be nil.
func NewServer(p Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{pinger: p, health: health.NewServer(), log: log}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Register registers grpc.health.v1.Health on r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(r, s.health)
}

// Check pings the database once and updates the serving status.
func (s *Server) Check(ctx context.Context) error {
	var err error
	if s.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = s.pinger.PingContext(pctx)
		cancel()
	}
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn("readiness check failed", zap.Error(err))
	}
	s.health.SetServingStatus("", status)
	return err
}

// Run checks every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain the instance.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// ServeHTTP answers GET /healthz with 200 {"status":"ok"} or 503 {"status":"unavailable"}.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code, body := http.StatusOK, map[string]string{"status": "ok"}
	if err := s.Check(r.Context()); err != nil {
		code, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
