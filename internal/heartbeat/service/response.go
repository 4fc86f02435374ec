package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/integrity"
)

// Agent facing lock reasons.
const (
	ReasonPaymentOverdue = "Payment overdue"
	ReasonSecurityIssue  = "Security issue"
)

// Deactivation statuses and command.
const (
	DeactivationNone      = "none"
	DeactivationRequested = "requested"
	CommandDeactivateNow  = "DEACTIVATE_NOW"
	agentRemovalNotice    = "Time to remove the device agent."
)

const unlockPasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const unlockPasswordLength = 12

// Response is the body returned to the agent.
type Response struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	Content      Content      `json:"content"`
	ServerTime   string       `json:"server_time"`
	Deactivation Deactivation `json:"deactivation"`
	NextPayment  *NextPayment `json:"next_payment,omitempty"`
}

// Content carries the lock state the agent must enforce.
type Content struct {
	IsLocked bool   `json:"is_locked"`
	Reason   string `json:"reason,omitempty"`
}

type Deactivation struct {
	Status      string `json:"status"`
	Command     string `json:"command,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AgentNotice string `json:"agent_notice,omitempty"`
	LoanNumber  string `json:"loan_number,omitempty"`
}

// NextPayment tells the agent when the next installment is due and how to unlock after paying.
type NextPayment struct {
	DateTime       string `json:"date_time"`
	UnlockPassword string `json:"unlock_password"`
}

// Recommendation is stored with the heartbeat history entry for support staff.
type Recommendation struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Recommendations returns the support guidance for a comparison result.
func Recommendations(res *integrity.Result) []Recommendation {
	var out []Recommendation
	if res.HighSeverityCount > 0 {
		out = append(out, Recommendation{
			Type:    "security_alert",
			Action:  "VISIT_SHOP",
			Message: "Device has been locked due to security violations. Please visit the shop where you purchased for assistance.",
		})
	}
	if res.MediumSeverityCount > 0 {
		out = append(out, Recommendation{
			Type:    "info",
			Action:  "LOG_ONLY",
			Message: "Configuration changes detected and logged for audit trail.",
		})
	}
	if res.TotalMismatches == 0 {
		out = append(out, Recommendation{
			Type:    "success",
			Action:  "CONTINUE",
			Message: "Device data matches registration baseline. No issues detected.",
		})
	}
	return out
}

func mismatchDescription(fields []string) string {
	return "Device data mismatch detected: " + strings.Join(fields, ", ")
}

func (s *Service) buildResponse(ctx context.Context, dev *devicedomain.Device, res *integrity.Result, deact devicedomain.AutoDeactivation) *Response {
	now := s.now().In(s.Location)
	resp := &Response{
		Success:      true,
		Message:      "Heartbeat processed successfully",
		Content:      s.lockContent(ctx, dev, res, now),
		ServerTime:   now.Format(time.RFC3339),
		Deactivation: Deactivation{Status: DeactivationNone},
		NextPayment:  s.NextPayment(ctx, dev),
	}
	if dev.DeactivateRequested || deact.Requested {
		resp.Deactivation.Status = DeactivationRequested
		resp.Deactivation.Command = CommandDeactivateNow
		if deact.Reason == devicedomain.DeactivationLoanCompleted {
			resp.Deactivation.Reason = deact.Reason
			resp.Deactivation.AgentNotice = agentRemovalNotice
			resp.Deactivation.LoanNumber = deact.LoanNumber
		}
	}
	return resp
}

// lockContent picks the reason shown on a locked device: an overdue installment
// wins over a security mismatch, and payment is the default.
func (s *Service) lockContent(ctx context.Context, dev *devicedomain.Device, res *integrity.Result, now time.Time) Content {
	if !dev.IsLocked {
		return Content{}
	}
	if s.Loans != nil {
		overdue, err := s.Loans.HasOverdue(ctx, dev.ID, now)
		if err != nil {
			s.Log.Warn("overdue check failed", zap.String("device_id", dev.ID), zap.Error(err))
		}
		if overdue {
			return Content{IsLocked: true, Reason: ReasonPaymentOverdue}
		}
	}
	if res.HighSeverityCount > 0 {
		return Content{IsLocked: true, Reason: ReasonSecurityIssue}
	}
	return Content{IsLocked: true, Reason: ReasonPaymentOverdue}
}

// NextPayment returns the earliest unpaid installment of the device's approved or
// active loan, due at 23:59 local time, with the unlock password the agent should
// accept once it is paid. Lookup failures are logged and yield nil.
func (s *Service) NextPayment(ctx context.Context, dev *devicedomain.Device) *NextPayment {
	if s.Loans == nil {
		return nil
	}
	loan, err := s.Loans.Current(ctx, dev.ID)
	if err != nil {
		s.Log.Warn("next payment lookup failed", zap.String("device_id", dev.ID), zap.Error(err))
		return nil
	}
	if loan == nil {
		return nil
	}
	inst, err := s.Loans.NextInstallment(ctx, loan.ID)
	if err != nil {
		s.Log.Warn("next payment lookup failed", zap.String("device_id", dev.ID), zap.Error(err))
		return nil
	}
	if inst == nil || inst.DueDate == nil {
		return nil
	}
	y, m, d := inst.DueDate.Date()
	due := time.Date(y, m, d, 23, 59, 0, 0, s.Location)

	password := dev.PendingUnlockPassword
	if password == "" {
		password, err = generateUnlockPassword()
		if err != nil {
			s.Log.Warn("unlock password generation failed", zap.String("device_id", dev.ID), zap.Error(err))
			return nil
		}
	}
	return &NextPayment{DateTime: due.Format(time.RFC3339), UnlockPassword: password}
}

// generateUnlockPassword returns a random alphanumeric password. It is not persisted.
func generateUnlockPassword() (string, error) {
	limit := big.NewInt(int64(len(unlockPasswordAlphabet)))
	var b strings.Builder
	b.Grow(unlockPasswordLength)
	for i := 0; i < unlockPasswordLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(unlockPasswordAlphabet[n.Int64()])
	}
	return b.String(), nil
}
