package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/db"
	"fleet-control-plane/internal/heartbeat/domain"
)

// PostgresRepository implements Repository using Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a snapshot repository backed by q.
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

type snapshotRow struct {
	ID                  string         `db:"id"`
	DeviceID            string         `db:"device_id"`
	Data                []byte         `db:"heartbeat_data"`
	Comparison          []byte         `db:"comparison_result"`
	MismatchesDetected  bool           `db:"mismatches_detected"`
	HighSeverityCount   int            `db:"high_severity_count"`
	MediumSeverityCount int            `db:"medium_severity_count"`
	AutoLocked          bool           `db:"auto_locked"`
	LockReason          sql.NullString `db:"lock_reason"`
	IPAddress           sql.NullString `db:"ip_address"`
	UserAgent           sql.NullString `db:"user_agent"`
	CreatedAt           time.Time      `db:"created_at"`
}

// Create persists s. s.ID and s.CreatedAt must be set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Snapshot) error {
	data, err := db.JSONParam(s.Data)
	if err != nil {
		return fmt.Errorf("encode heartbeat data: %w", err)
	}
	if data == nil {
		data = "{}"
	}
	comparison, err := db.JSONParam(s.Comparison)
	if err != nil {
		return fmt.Errorf("encode comparison result: %w", err)
	}
	if comparison == nil {
		comparison = "{}"
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO device_heartbeat_history (id, device_id, heartbeat_data, comparison_result, mismatches_detected,
		   high_severity_count, medium_severity_count, auto_locked, lock_reason, ip_address, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.DeviceID, data, comparison, s.MismatchesDetected,
		s.HighSeverityCount, s.MediumSeverityCount, s.AutoLocked, db.NullString(s.LockReason),
		db.NullString(s.IPAddress), db.NullString(s.UserAgent), s.CreatedAt)
	return err
}

func (r *PostgresRepository) MarkAutoLocked(ctx context.Context, id, reason string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE device_heartbeat_history SET auto_locked = TRUE, lock_reason = $2
		 WHERE id = $1 AND auto_locked = FALSE`, id, reason)
	return err
}

// LatestForDevice returns Comparison as a decoded JSON object.
func (r *PostgresRepository) LatestForDevice(ctx context.Context, deviceID string) (*domain.Snapshot, error) {
	var row snapshotRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT id, device_id, heartbeat_data, comparison_result, mismatches_detected, high_severity_count,
		   medium_severity_count, auto_locked, lock_reason, ip_address, user_agent, created_at
		 FROM device_heartbeat_history WHERE device_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s := &domain.Snapshot{
		ID:                  row.ID,
		DeviceID:            row.DeviceID,
		MismatchesDetected:  row.MismatchesDetected,
		HighSeverityCount:   row.HighSeverityCount,
		MediumSeverityCount: row.MediumSeverityCount,
		AutoLocked:          row.AutoLocked,
		LockReason:          row.LockReason.String,
		IPAddress:           row.IPAddress.String,
		UserAgent:           row.UserAgent.String,
		CreatedAt:           row.CreatedAt,
	}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &s.Data); err != nil {
			return nil, fmt.Errorf("decode heartbeat data: %w", err)
		}
	}
	if len(row.Comparison) > 0 {
		var comparison map[string]any
		if err := json.Unmarshal(row.Comparison, &comparison); err != nil {
			return nil, fmt.Errorf("decode comparison result: %w", err)
		}
		s.Comparison = comparison
	}
	return s, nil
}
