package repository

import (
	"context"
	"time"

	"fleet-control-plane/internal/loan/domain"
)

// Repository reads loans and their installments. Not-found lookups return (nil, nil).
type Repository interface {
	FindByNumber(ctx context.Context, number string) (*domain.Loan, error)
	// Current returns the device's approved or active loan, oldest first.
	Current(ctx context.Context, deviceID string) (*domain.Loan, error)
	// NextInstallment returns the earliest unpaid installment by due date, then installment number.
	NextInstallment(ctx context.Context, loanID string) (*domain.Installment, error)
	// HasOverdue reports whether an active loan on the device has an unpaid installment due before today.
	HasOverdue(ctx context.Context, deviceID string, today time.Time) (bool, error)
	HasOpenLoan(ctx context.Context, deviceID string) (bool, error)
	// LatestCompleted orders by actual_end_date, then updated_at, then created_at, newest first.
	LatestCompleted(ctx context.Context, deviceID string) (*domain.Loan, error)
	// ActivateApproved activates the device's approved loan once the agent finishes
	// installing. Returns the loan number, or "" when there was none.
	ActivateApproved(ctx context.Context, deviceID string) (string, error)
	// AttachDevice links the loan to a newly registered device.
	AttachDevice(ctx context.Context, loanID, deviceID string) error
}
