package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

func servingStatus(t *testing.T, srv *Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.GetStatus()
}

func TestCheck_NilPinger(t *testing.T) {
	srv := NewServer(nil, nil)
	if err := srv.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := servingStatus(t, srv); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
}

func TestCheck_PingerFailureFlipsStatus(t *testing.T) {
	p := &mockPinger{pingErr: errors.New("connection refused")}
	srv := NewServer(p, nil)
	if err := srv.Check(context.Background()); err == nil {
		t.Fatal("Check: want error")
	}
	if got := servingStatus(t, srv); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}

	p.pingErr = nil
	if err := srv.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := servingStatus(t, srv); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING after recovery", got)
	}
}

func TestServeHTTP(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
		wantBody string
	}{
		{"healthy", nil, http.StatusOK, `"status":"ok"`},
		{"db down", errors.New("timeout"), http.StatusServiceUnavailable, `"status":"unavailable"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&mockPinger{pingErr: tt.pingErr}, nil)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestShutdown(t *testing.T) {
	srv := NewServer(nil, nil)
	srv.Shutdown()
	if got := servingStatus(t, srv); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}
