package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/db"
	"fleet-control-plane/internal/tamper/domain"
)

type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a tamper signal repository backed by q.
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

type signalRow struct {
	ID                string         `db:"id"`
	DeviceID          string         `db:"device_id"`
	Type              string         `db:"signal_type"`
	Level             string         `db:"level"`
	Description       string         `db:"description"`
	AutoActionTaken   bool           `db:"auto_action_taken"`
	ActionDescription sql.NullString `db:"action_description"`
	CreatedAt         time.Time      `db:"created_at"`
}

// Create persists s. s.ID and s.CreatedAt must be set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Signal) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO device_tamper_signals (id, device_id, signal_type, level, description, auto_action_taken, action_description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.DeviceID, string(s.Type), string(s.Level), s.Description, s.AutoActionTaken,
		db.NullString(s.ActionDescription), s.CreatedAt)
	return err
}

// ListByDevice returns signals for deviceID, newest first.
func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.Signal, error) {
	query := `SELECT id, device_id, signal_type, level, description, auto_action_taken, action_description, created_at
		FROM device_tamper_signals WHERE device_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{deviceID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []signalRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*domain.Signal, len(rows))
	for i, row := range rows {
		out[i] = &domain.Signal{
			ID:                row.ID,
			DeviceID:          row.DeviceID,
			Type:              domain.SignalType(row.Type),
			Level:             domain.Level(row.Level),
			Description:       row.Description,
			AutoActionTaken:   row.AutoActionTaken,
			ActionDescription: row.ActionDescription.String,
			CreatedAt:         row.CreatedAt,
		}
	}
	return out, nil
}
