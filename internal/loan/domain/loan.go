package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrLoanNotFound  = errors.New("loan not found")
	ErrLoanCompleted = errors.New("loan already completed")
)

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDefaulted Status = "defaulted"
	StatusCancelled Status = "cancelled"
)

// Open reports whether the loan still binds the device to the lender.
func (s Status) Open() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusActive:
		return true
	}
	return false
}

// PaymentStatus is the state of one installment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentOverdue PaymentStatus = "overdue"
	PaymentPaid    PaymentStatus = "paid"
)

// Unpaid reports whether the installment still has a balance.
func (s PaymentStatus) Unpaid() bool {
	return s == PaymentPending || s == PaymentPartial || s == PaymentOverdue
}

// Loan finances a device.
type Loan struct {
	ID            string
	Number        string
	DeviceID      string
	Status        Status
	ActualEndDate *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Installment is one scheduled loan payment.
type Installment struct {
	ID      string
	LoanID  string
	Number  int
	DueDate *time.Time
	Amount  decimal.Decimal
	Status  PaymentStatus
}
