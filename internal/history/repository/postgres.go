package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/db"
	"fleet-control-plane/internal/history/domain"
)

const historyColumns = `id, device_id, action, actor, notes, changed_fields, old_values, new_values, ip_address, created_at`

type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a history repository backed by q (a *sqlx.DB or *sqlx.Tx).
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

// WithTx returns a copy of the repository that runs its statements inside tx.
func (r *PostgresRepository) WithTx(tx *sqlx.Tx) *PostgresRepository {
	return &PostgresRepository{q: tx}
}

type historyRow struct {
	ID            string         `db:"id"`
	DeviceID      string         `db:"device_id"`
	Action        string         `db:"action"`
	Actor         sql.NullString `db:"actor"`
	Notes         sql.NullString `db:"notes"`
	ChangedFields []byte         `db:"changed_fields"`
	OldValues     []byte         `db:"old_values"`
	NewValues     []byte         `db:"new_values"`
	IPAddress     sql.NullString `db:"ip_address"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Create inserts e. e.ID and e.CreatedAt must be set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	changed, err := db.JSONParam(e.ChangedFields)
	if err != nil {
		return fmt.Errorf("history changed_fields: %w", err)
	}
	oldVals, err := db.JSONParam(e.OldValues)
	if err != nil {
		return fmt.Errorf("history old_values: %w", err)
	}
	newVals, err := db.JSONParam(e.NewValues)
	if err != nil {
		return fmt.Errorf("history new_values: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO device_history (`+historyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.DeviceID, e.Action, db.NullString(e.Actor), db.NullString(e.Notes),
		changed, oldVals, newVals, db.NullString(e.IPAddress), e.CreatedAt,
	)
	return err
}

// FirstByAction returns the oldest entry with action for deviceID, or nil if not found.
func (r *PostgresRepository) FirstByAction(ctx context.Context, deviceID, action string) (*domain.Entry, error) {
	var row historyRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT `+historyColumns+` FROM device_history
		 WHERE device_id = $1 AND action = $2
		 ORDER BY created_at ASC, id ASC LIMIT 1`, deviceID, action)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row)
}

// ListByDevice returns entries for deviceID matching f, newest first.
func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceID string, f ListFilter) ([]*domain.Entry, error) {
	var (
		where = []string{"device_id = $1"}
		args  = []any{deviceID}
	)
	if f.Action != "" {
		args = append(args, f.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `SELECT ` + historyColumns + ` FROM device_history WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []historyRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*domain.Entry, 0, len(rows))
	for i := range rows {
		e, err := rowToDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func rowToDomain(row *historyRow) (*domain.Entry, error) {
	e := &domain.Entry{
		ID:        row.ID,
		DeviceID:  row.DeviceID,
		Action:    row.Action,
		Actor:     row.Actor.String,
		Notes:     row.Notes.String,
		IPAddress: row.IPAddress.String,
		CreatedAt: row.CreatedAt,
	}
	if len(row.ChangedFields) > 0 {
		if err := json.Unmarshal(row.ChangedFields, &e.ChangedFields); err != nil {
			return nil, fmt.Errorf("history %s changed_fields: %w", row.ID, err)
		}
	}
	if len(row.OldValues) > 0 {
		if err := json.Unmarshal(row.OldValues, &e.OldValues); err != nil {
			return nil, fmt.Errorf("history %s old_values: %w", row.ID, err)
		}
	}
	if len(row.NewValues) > 0 {
		if err := json.Unmarshal(row.NewValues, &e.NewValues); err != nil {
			return nil, fmt.Errorf("history %s new_values: %w", row.ID, err)
		}
	}
	return e, nil
}
