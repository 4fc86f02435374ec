package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/heartbeat/domain"
)

func newRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	return NewPostgresRepository(sqlx.NewDb(raw, "sqlmock")), mock
}

func TestCreate(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO device_heartbeat_history").
		WithArgs("hb1", "dev-1", `{"serial_number":"ABC"}`, `{"total_mismatches":0}`, false,
			0, 0, false, nil, "10.0.0.2", "agent/1.0", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.Snapshot{
		ID:         "hb1",
		DeviceID:   "dev-1",
		Data:       map[string]any{"serial_number": "ABC"},
		Comparison: map[string]any{"total_mismatches": 0},
		IPAddress:  "10.0.0.2",
		UserAgent:  "agent/1.0",
		CreatedAt:  now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreate_NilMapsStoreEmptyObjects(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO device_heartbeat_history").
		WithArgs("hb2", "dev-1", "{}", "{}", false, 0, 0, false, nil, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Create(context.Background(), &domain.Snapshot{ID: "hb2", DeviceID: "dev-1", CreatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestMarkAutoLocked(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec("UPDATE device_heartbeat_history SET auto_locked = TRUE").
		WithArgs("hb1", "Device security compromised: serial_number").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.MarkAutoLocked(context.Background(), "hb1", "Device security compromised: serial_number"); err != nil {
		t.Fatalf("MarkAutoLocked: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLatestForDevice(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()
	cols := []string{"id", "device_id", "heartbeat_data", "comparison_result", "mismatches_detected", "high_severity_count",
		"medium_severity_count", "auto_locked", "lock_reason", "ip_address", "user_agent", "created_at"}
	mock.ExpectQuery("FROM device_heartbeat_history WHERE device_id = ").
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("hb9", "dev-1", []byte(`{"serial_number":"X"}`),
			[]byte(`{"high_severity_count":1}`), true, 1, 0, true, "Device security compromised: serial_number", nil, nil, now))

	s, err := repo.LatestForDevice(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("LatestForDevice: %v", err)
	}
	if s == nil || !s.AutoLocked || s.HighSeverityCount != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Data["serial_number"] != "X" {
		t.Errorf("data = %v", s.Data)
	}
	if m, ok := s.Comparison.(map[string]any); !ok || m["high_severity_count"] != float64(1) {
		t.Errorf("comparison = %v", s.Comparison)
	}
}

func TestLatestForDevice_None(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FROM device_heartbeat_history").WithArgs("dev-2").WillReturnError(sql.ErrNoRows)
	s, err := repo.LatestForDevice(context.Background(), "dev-2")
	if err != nil || s != nil {
		t.Errorf("LatestForDevice = (%v, %v), want (nil, nil)", s, err)
	}
}
