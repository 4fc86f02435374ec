package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/db"
	"fleet-control-plane/internal/device/domain"
)

const deviceColumns = `device_id, device_type, category, loan_number, manufacturer, model, serial_number,
	device_fingerprint, is_locked, is_online, last_seen_at, ip_address, deactivate_requested,
	deactivated_at, pending_unlock_password, disk_recovery_key, installation_completed,
	installation_completed_at, created_at`

type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a device repository backed by q.
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

// WithTx returns a copy of the repository bound to tx.
func (r *PostgresRepository) WithTx(tx *sqlx.Tx) *PostgresRepository {
	return &PostgresRepository{q: tx}
}

type deviceRow struct {
	ID                      string         `db:"device_id"`
	DeviceType              string         `db:"device_type"`
	Category                string         `db:"category"`
	LoanNumber              sql.NullString `db:"loan_number"`
	Manufacturer            sql.NullString `db:"manufacturer"`
	Model                   sql.NullString `db:"model"`
	SerialNumber            sql.NullString `db:"serial_number"`
	Fingerprint             sql.NullString `db:"device_fingerprint"`
	IsLocked                bool           `db:"is_locked"`
	IsOnline                bool           `db:"is_online"`
	LastSeenAt              sql.NullTime   `db:"last_seen_at"`
	IPAddress               sql.NullString `db:"ip_address"`
	DeactivateRequested     bool           `db:"deactivate_requested"`
	DeactivatedAt           sql.NullTime   `db:"deactivated_at"`
	PendingUnlockPassword   sql.NullString `db:"pending_unlock_password"`
	RecoveryKey             []byte         `db:"disk_recovery_key"`
	InstallationCompleted   bool           `db:"installation_completed"`
	InstallationCompletedAt sql.NullTime   `db:"installation_completed_at"`
	CreatedAt               time.Time      `db:"created_at"`
}

// GetByID returns the device for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	d, err := r.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, id)
	if d != nil || err != nil {
		return d, err
	}
	return r.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE lower(device_id) = lower($1) ORDER BY created_at LIMIT 1`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*domain.Device, error) {
	var row deviceRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row), nil
}

// Create inserts d. d.ID and d.CreatedAt must be set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO devices (`+deviceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		d.ID, string(d.DeviceType), d.Category, db.NullString(d.LoanNumber), db.NullString(d.Manufacturer),
		db.NullString(d.Model), db.NullString(d.SerialNumber), db.NullString(d.Fingerprint),
		d.IsLocked, d.IsOnline, db.NullTime(d.LastSeenAt), db.NullString(d.IPAddress),
		d.DeactivateRequested, db.NullTime(d.DeactivatedAt), db.NullString(d.PendingUnlockPassword),
		rawJSON(d.RecoveryKey), d.InstallationCompleted, db.NullTime(d.InstallationCompletedAt), d.CreatedAt,
	)
	return err
}

// SetRecoveryKey replaces the stored disk recovery key.
func (r *PostgresRepository) SetRecoveryKey(ctx context.Context, id string, key json.RawMessage) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE devices SET disk_recovery_key = $2 WHERE device_id = $1`, id, rawJSON(key))
	return err
}

// SetInstallation records the agent's installation outcome. A nil key leaves
// the stored recovery key untouched.
func (r *PostgresRepository) SetInstallation(ctx context.Context, id string, completed bool, at *time.Time, key json.RawMessage) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE devices SET installation_completed = $2,
		        installation_completed_at = COALESCE($3, installation_completed_at),
		        disk_recovery_key = COALESCE($4::jsonb, disk_recovery_key)
		 WHERE device_id = $1`,
		id, completed, db.NullTime(at), rawJSON(key))
	return err
}

// TouchHeartbeat marks the device online at at from ip.
func (r *PostgresRepository) TouchHeartbeat(ctx context.Context, id string, at time.Time, ip string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE devices SET is_online = TRUE, last_seen_at = $2, ip_address = $3 WHERE device_id = $1`,
		id, at, db.NullString(ip))
	return err
}

// RequestDeactivation sets deactivate_requested when it is not already set.
func (r *PostgresRepository) RequestDeactivation(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE devices SET deactivate_requested = TRUE
		 WHERE device_id = $1 AND NOT deactivate_requested AND deactivated_at IS NULL`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConfirmDeactivation clears the request and records at as deactivated_at.
func (r *PostgresRepository) ConfirmDeactivation(ctx context.Context, id string, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE devices SET deactivate_requested = FALSE, deactivated_at = $2 WHERE device_id = $1`, id, at)
	return err
}

func rowToDomain(row *deviceRow) *domain.Device {
	dt, ok := domain.ParseDeviceType(row.DeviceType)
	if !ok {
		dt = domain.TypeOther
	}
	return &domain.Device{
		ID:                      row.ID,
		DeviceType:              dt,
		Category:                row.Category,
		LoanNumber:              row.LoanNumber.String,
		Manufacturer:            row.Manufacturer.String,
		Model:                   row.Model.String,
		SerialNumber:            row.SerialNumber.String,
		Fingerprint:             row.Fingerprint.String,
		IsLocked:                row.IsLocked,
		IsOnline:                row.IsOnline,
		LastSeenAt:              db.TimePtr(row.LastSeenAt),
		IPAddress:               row.IPAddress.String,
		DeactivateRequested:     row.DeactivateRequested,
		DeactivatedAt:           db.TimePtr(row.DeactivatedAt),
		PendingUnlockPassword:   row.PendingUnlockPassword.String,
		RecoveryKey:             recoveryKey(row.RecoveryKey),
		InstallationCompleted:   row.InstallationCompleted,
		InstallationCompletedAt: db.TimePtr(row.InstallationCompletedAt),
		CreatedAt:               row.CreatedAt,
	}
}

// rawJSON maps an empty key to SQL NULL.
func rawJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func recoveryKey(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), b...))
}
