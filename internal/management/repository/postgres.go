package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/db"
	"fleet-control-plane/internal/management/domain"
)

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a management repository using conn for persistence.
func NewPostgresRepository(conn *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type stateRow struct {
	DeviceID      string         `db:"device_id"`
	Status        string         `db:"status"`
	BlockReason   sql.NullString `db:"block_reason"`
	BlockedAt     sql.NullTime   `db:"blocked_at"`
	LockedBy      sql.NullString `db:"locked_by"`
	LastCommand   sql.NullString `db:"last_command"`
	LastCommandAt sql.NullTime   `db:"last_command_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Get returns the management state for deviceID, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, deviceID string) (*domain.State, error) {
	var row stateRow
	err := r.db.GetContext(ctx, &row,
		`SELECT device_id, status, block_reason, blocked_at, locked_by, last_command, last_command_at, updated_at
		 FROM device_management WHERE device_id = $1`, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.State{
		DeviceID:      row.DeviceID,
		Status:        domain.Status(row.Status),
		BlockReason:   row.BlockReason.String,
		BlockedAt:     db.TimePtr(row.BlockedAt),
		LockedBy:      row.LockedBy.String,
		LastCommand:   row.LastCommand.String,
		LastCommandAt: db.TimePtr(row.LastCommandAt),
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// LockIfUnlocked reads is_locked FOR UPDATE and locks only when it was false.
func (r *PostgresRepository) LockIfUnlocked(ctx context.Context, t Transition) (bool, error) {
	return r.transition(ctx, t, true)
}

// UnlockIfLocked reads is_locked FOR UPDATE and unlocks only when it was true.
func (r *PostgresRepository) UnlockIfLocked(ctx context.Context, t Transition) (bool, error) {
	return r.transition(ctx, t, false)
}

func (r *PostgresRepository) transition(ctx context.Context, t Transition, lock bool) (bool, error) {
	changed := false
	err := db.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var isLocked bool
		if err := tx.GetContext(ctx, &isLocked, `SELECT is_locked FROM devices WHERE device_id = $1 FOR UPDATE`, t.DeviceID); err != nil {
			return err
		}
		if isLocked == lock {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE devices SET is_locked = $2 WHERE device_id = $1`, t.DeviceID, lock); err != nil {
			return err
		}
		var err error
		if lock {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO device_management (device_id, status, block_reason, blocked_at, locked_by, last_command, last_command_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $4, $4)
				 ON CONFLICT (device_id) DO UPDATE SET status = EXCLUDED.status, block_reason = EXCLUDED.block_reason,
				   blocked_at = EXCLUDED.blocked_at, locked_by = EXCLUDED.locked_by, last_command = EXCLUDED.last_command,
				   last_command_at = EXCLUDED.last_command_at, updated_at = EXCLUDED.updated_at`,
				t.DeviceID, string(domain.StatusLocked), db.NullString(t.Reason), t.At, db.NullString(t.Actor), domain.CommandLock)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO device_management (device_id, status, last_command, last_command_at, updated_at)
				 VALUES ($1, $2, $3, $4, $4)
				 ON CONFLICT (device_id) DO UPDATE SET status = EXCLUDED.status, block_reason = NULL, blocked_at = NULL,
				   locked_by = NULL, last_command = EXCLUDED.last_command, last_command_at = EXCLUDED.last_command_at,
				   updated_at = EXCLUDED.updated_at`,
				t.DeviceID, string(domain.StatusActive), domain.CommandUnlock, t.At)
		}
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}
