package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"fleet-control-plane/internal/db"
	"fleet-control-plane/internal/loan/domain"
)

const loanColumns = `id, loan_number, device_id, status, actual_end_date, created_at, updated_at`

// PostgresRepository implements Repository using Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a loan repository backed by q.
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

// WithTx returns a copy of the repository that runs statements inside tx.
func (r *PostgresRepository) WithTx(tx *sqlx.Tx) *PostgresRepository {
	return &PostgresRepository{q: tx}
}

type loanRow struct {
	ID            string         `db:"id"`
	Number        string         `db:"loan_number"`
	DeviceID      sql.NullString `db:"device_id"`
	Status        string         `db:"status"`
	ActualEndDate sql.NullTime   `db:"actual_end_date"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type installmentRow struct {
	ID      string          `db:"id"`
	LoanID  string          `db:"loan_id"`
	Number  int             `db:"installment_number"`
	DueDate sql.NullTime    `db:"due_date"`
	Amount  decimal.Decimal `db:"amount"`
	Status  string          `db:"status"`
}

func (r *PostgresRepository) getLoan(ctx context.Context, query string, args ...any) (*domain.Loan, error) {
	var row loanRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(row), nil
}

// FindByNumber returns the loan with the given number, or nil if none.
func (r *PostgresRepository) FindByNumber(ctx context.Context, number string) (*domain.Loan, error) {
	return r.getLoan(ctx, `SELECT `+loanColumns+` FROM loans WHERE loan_number = $1`, number)
}

func (r *PostgresRepository) Current(ctx context.Context, deviceID string) (*domain.Loan, error) {
	return r.getLoan(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE device_id = $1 AND status IN ('approved', 'active')
		 ORDER BY created_at ASC, id ASC LIMIT 1`, deviceID)
}

func (r *PostgresRepository) NextInstallment(ctx context.Context, loanID string) (*domain.Installment, error) {
	var row installmentRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT id, loan_id, installment_number, due_date, amount, status FROM loan_payments
		 WHERE loan_id = $1 AND status IN ('pending', 'partial', 'overdue')
		 ORDER BY due_date ASC NULLS LAST, installment_number ASC LIMIT 1`, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.Installment{
		ID:      row.ID,
		LoanID:  row.LoanID,
		Number:  row.Number,
		DueDate: db.TimePtr(row.DueDate),
		Amount:  row.Amount,
		Status:  domain.PaymentStatus(row.Status),
	}, nil
}

// HasOverdue compares due_date with today's calendar date as seen in the server timezone.
func (r *PostgresRepository) HasOverdue(ctx context.Context, deviceID string, today time.Time) (bool, error) {
	return r.exists(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM loan_payments p JOIN loans l ON l.id = p.loan_id
		   WHERE l.device_id = $1 AND l.status = 'active'
		     AND p.status IN ('pending', 'partial', 'overdue') AND p.due_date < $2
		 )`, deviceID, today.Format(time.DateOnly))
}

func (r *PostgresRepository) HasOpenLoan(ctx context.Context, deviceID string) (bool, error) {
	return r.exists(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM loans WHERE device_id = $1 AND status IN ('draft', 'pending', 'approved', 'active')
		 )`, deviceID)
}

func (r *PostgresRepository) LatestCompleted(ctx context.Context, deviceID string) (*domain.Loan, error) {
	return r.getLoan(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE device_id = $1 AND status = 'completed'
		 ORDER BY actual_end_date DESC NULLS LAST, updated_at DESC, created_at DESC LIMIT 1`, deviceID)
}

func (r *PostgresRepository) AttachDevice(ctx context.Context, loanID, deviceID string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE loans SET device_id = $2, updated_at = now() WHERE id = $1`, loanID, deviceID)
	return err
}

// ActivateApproved moves the device's oldest approved loan to active and returns
// its number. It returns "" when the device has no approved loan.
func (r *PostgresRepository) ActivateApproved(ctx context.Context, deviceID string) (string, error) {
	var number string
	err := sqlx.GetContext(ctx, r.q, &number,
		`UPDATE loans SET status = 'active', updated_at = now()
		 WHERE id = (
		   SELECT id FROM loans WHERE device_id = $1 AND status = 'approved'
		   ORDER BY created_at ASC, id ASC LIMIT 1
		 )
		 RETURNING loan_number`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return number, err
}

// Create inserts a loan. Used by the seed command.
func (r *PostgresRepository) Create(ctx context.Context, l *domain.Loan) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO loans (id, loan_number, device_id, status, actual_end_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (loan_number) DO NOTHING`,
		l.ID, l.Number, db.NullString(l.DeviceID), string(l.Status), db.NullTime(l.ActualEndDate), l.CreatedAt, l.UpdatedAt)
	return err
}

// AddInstallment inserts one scheduled payment. Used by the seed command.
func (r *PostgresRepository) AddInstallment(ctx context.Context, in *domain.Installment) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO loan_payments (id, loan_id, installment_number, due_date, amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.LoanID, in.Number, db.NullTime(in.DueDate), in.Amount.StringFixed(2), string(in.Status))
	return err
}

func (r *PostgresRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := sqlx.GetContext(ctx, r.q, &ok, query, args...); err != nil {
		return false, err
	}
	return ok, nil
}

func rowToDomain(row loanRow) *domain.Loan {
	return &domain.Loan{
		ID:            row.ID,
		Number:        row.Number,
		DeviceID:      row.DeviceID.String,
		Status:        domain.Status(row.Status),
		ActualEndDate: db.TimePtr(row.ActualEndDate),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
