package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleet-control-plane/internal/device/domain"
	historydomain "fleet-control-plane/internal/history/domain"
)

const defaultDeactivationReason = "Admin requested Device Owner deactivation"

// Confirmation statuses an agent reports after attempting to remove itself.
const (
	ConfirmSuccess = "success"
	ConfirmFailed  = "failed"
)

// Confirmation is the outcome of a confirm call.
type Confirmation struct {
	Device        *domain.Device
	DeactivatedAt *time.Time
	// WillRetry is set when the agent reported failure and the request stays open.
	WillRetry bool
}

// AutoRequestDeactivation asks the agent to remove itself once the device has no
// open loan and at least one completed loan. Failures are logged and reported as
// not requested.
func (s *Service) AutoRequestDeactivation(ctx context.Context, dev *domain.Device) domain.AutoDeactivation {
	open, err := s.loans.HasOpenLoan(ctx, dev.ID)
	if err != nil {
		s.log.Warn("auto deactivation check failed", zap.String("device_id", dev.ID), zap.Error(err))
		return domain.AutoDeactivation{}
	}
	if open {
		return domain.AutoDeactivation{}
	}
	loan, err := s.loans.LatestCompleted(ctx, dev.ID)
	if err != nil {
		s.log.Warn("auto deactivation check failed", zap.String("device_id", dev.ID), zap.Error(err))
		return domain.AutoDeactivation{}
	}
	if loan == nil {
		return domain.AutoDeactivation{}
	}

	if dev.DeactivatedAt == nil && !dev.DeactivateRequested {
		changed, err := s.devices.RequestDeactivation(ctx, dev.ID)
		if err != nil {
			s.log.Warn("auto deactivation request failed", zap.String("device_id", dev.ID), zap.Error(err))
			return domain.AutoDeactivation{}
		}
		if changed {
			dev.DeactivateRequested = true
			s.history.RecordBestEffort(ctx, &historydomain.Entry{
				DeviceID:      dev.ID,
				Action:        historydomain.ActionDeactivationRequested,
				Actor:         "system",
				Notes:         fmt.Sprintf("Device Owner deactivation auto-requested after loan completion (%s).", loan.Number),
				ChangedFields: []string{"deactivate_requested"},
				OldValues:     map[string]any{"deactivate_requested": false},
				NewValues:     map[string]any{"deactivate_requested": true, "trigger": domain.DeactivationLoanCompleted},
			})
			s.log.Info("deactivation auto-requested",
				zap.String("device_id", dev.ID), zap.String("loan_number", loan.Number))
		}
	}
	return domain.AutoDeactivation{
		Requested:  true,
		Reason:     domain.DeactivationLoanCompleted,
		LoanNumber: loan.Number,
	}
}

// RequestDeactivation flags the device for removal on its next heartbeat.
// Returns domain.ErrDeviceNotFound or domain.ErrAlreadyDeactivated.
func (s *Service) RequestDeactivation(ctx context.Context, deviceID, actor, reason, ip string) (*domain.Device, error) {
	dev, err := s.resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.DeactivatedAt != nil {
		return dev, domain.ErrAlreadyDeactivated
	}
	if _, err := s.devices.RequestDeactivation(ctx, dev.ID); err != nil {
		return nil, fmt.Errorf("request deactivation: %w", err)
	}
	dev.DeactivateRequested = true
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultDeactivationReason
	}
	s.history.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:      dev.ID,
		Action:        historydomain.ActionDeactivationRequested,
		Actor:         actor,
		Notes:         "Device Owner deactivation requested. Reason: " + reason,
		ChangedFields: []string{"deactivate_requested"},
		OldValues:     map[string]any{"deactivate_requested": false},
		NewValues:     map[string]any{"deactivate_requested": true},
		IPAddress:     ip,
	})
	s.log.Info("deactivation requested",
		zap.String("device_id", dev.ID), zap.String("actor", actor), zap.String("reason", reason))
	return dev, nil
}

// ConfirmDeactivation records the agent's report. A failed report keeps the request open.
func (s *Service) ConfirmDeactivation(ctx context.Context, deviceID, status, message, ip string) (*Confirmation, error) {
	dev, err := s.resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	switch status {
	case ConfirmSuccess:
		at := s.now().UTC()
		if err := s.devices.ConfirmDeactivation(ctx, dev.ID, at); err != nil {
			return nil, fmt.Errorf("confirm deactivation: %w", err)
		}
		dev.DeactivateRequested = false
		dev.DeactivatedAt = &at
		s.history.RecordBestEffort(ctx, &historydomain.Entry{
			DeviceID:      dev.ID,
			Action:        historydomain.ActionDeactivationConfirmed,
			Actor:         "agent",
			Notes:         "Device Owner deactivation confirmed successfully. Message: " + message,
			ChangedFields: []string{"deactivate_requested", "deactivated_at"},
			OldValues:     map[string]any{"deactivate_requested": true, "deactivated_at": nil},
			NewValues:     map[string]any{"deactivate_requested": false, "deactivated_at": at.Format(time.RFC3339)},
			IPAddress:     ip,
		})
		s.log.Info("deactivation confirmed", zap.String("device_id", dev.ID))
		return &Confirmation{Device: dev, DeactivatedAt: &at}, nil

	case ConfirmFailed:
		s.history.RecordBestEffort(ctx, &historydomain.Entry{
			DeviceID:      dev.ID,
			Action:        historydomain.ActionDeactivationFailed,
			Actor:         "agent",
			Notes:         fmt.Sprintf("Device Owner deactivation failed. Status: %s, Message: %s", status, message),
			ChangedFields: []string{"deactivation_status"},
			OldValues:     map[string]any{"deactivation_status": "in_progress"},
			NewValues:     map[string]any{"deactivation_status": "failed"},
			IPAddress:     ip,
		})
		s.log.Warn("deactivation failed, agent will retry",
			zap.String("device_id", dev.ID), zap.String("message", message))
		return &Confirmation{Device: dev, WillRetry: true}, nil
	}
	return nil, invalidField("status", fmt.Sprintf("%q is not a valid choice.", status))
}

func (s *Service) resolve(ctx context.Context, deviceID string) (*domain.Device, error) {
	dev, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, domain.ErrDeviceNotFound
	}
	return dev, nil
}
