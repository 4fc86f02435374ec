// Package service records what device agents report after installing: disk
// recovery keys and whether provisioning finished.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
	hbservice "fleet-control-plane/internal/heartbeat/service"
	"fleet-control-plane/internal/history"
	historydomain "fleet-control-plane/internal/history/domain"
	"fleet-control-plane/internal/tamper"
	tamperdomain "fleet-control-plane/internal/tamper/domain"
)

const recoveryKeyChangedDescription = "Disk Recovery Key was changed on a loaned device via dedicated endpoint."

// Devices is the slice of the device store installation reports write to.
type Devices interface {
	GetByID(ctx context.Context, id string) (*devicedomain.Device, error)
	SetRecoveryKey(ctx context.Context, id string, key json.RawMessage) error
	SetInstallation(ctx context.Context, id string, completed bool, at *time.Time, key json.RawMessage) error
}

// Loans answers whether a device is on loan and activates its approved loan.
type Loans interface {
	HasOpenLoan(ctx context.Context, deviceID string) (bool, error)
	ActivateApproved(ctx context.Context, deviceID string) (string, error)
}

// PaymentPlanner supplies the next installment shown to the agent.
type PaymentPlanner interface {
	NextPayment(ctx context.Context, dev *devicedomain.Device) *hbservice.NextPayment
}

// Deps are the collaborators of a Service. Location defaults to time.Local and Log to a no-op logger.
type Deps struct {
	Devices  Devices
	Loans    Loans
	Payments PaymentPlanner
	History  *history.Recorder
	Signals  *tamper.Recorder
	Location *time.Location
	Log      *zap.Logger
}

// Service handles installation reports. Safe for concurrent use.
type Service struct {
	Deps
	now func() time.Time
}

// NewService returns an installation service.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Service{Deps: d, now: time.Now}
}

// Report is an agent's installation outcome.
type Report struct {
	Completed bool
	Reason    string
	// RecoveryKeys maps drive letters to keys. Desktop reports only; may be an empty object.
	RecoveryKeys json.RawMessage
	IPAddress    string
}

// Outcome is the stored result of a Report.
type Outcome struct {
	Device *devicedomain.Device
	// ActivatedLoan is the loan number moved to active, if any.
	ActivatedLoan string
	NextPayment   *hbservice.NextPayment
	ServerTime    time.Time
}

// UpdateRecoveryKey stores key for the device. A changed key is written to the
// audit trail masked, and replacing an existing key on a loaned device raises a
// medium security alert. changed is false when key equals the stored one.
func (s *Service) UpdateRecoveryKey(ctx context.Context, deviceID, key, ip string) (dev *devicedomain.Device, changed bool, err error) {
	dev, err = s.resolve(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, false, err
	}
	if devicedomain.SameRecoveryKey(dev.RecoveryKey, raw) {
		return dev, false, nil
	}
	oldMasked := devicedomain.MaskRecoveryKey(dev.RecoveryKey)
	if err := s.Devices.SetRecoveryKey(ctx, dev.ID, raw); err != nil {
		return nil, false, fmt.Errorf("store recovery key: %w", err)
	}
	dev.RecoveryKey = raw

	s.History.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:      dev.ID,
		Action:        historydomain.ActionInfoUpdate,
		Actor:         "agent",
		Notes:         "Disk Recovery Key updated by device agent (Dedicated Endpoint).",
		ChangedFields: []string{"disk_recovery_key"},
		OldValues:     map[string]any{"disk_recovery_key": oldMasked},
		NewValues:     map[string]any{"disk_recovery_key": devicedomain.RecoveryKeyMaskedValue},
		IPAddress:     ip,
	})

	if oldMasked != nil && s.loaned(ctx, dev.ID) && s.Signals != nil {
		s.Signals.RaiseBestEffort(ctx, &tamperdomain.Signal{
			DeviceID:    dev.ID,
			Type:        tamperdomain.TypeSecurityAlert,
			Level:       tamperdomain.LevelMedium,
			Description: recoveryKeyChangedDescription,
		})
	}
	s.Log.Info("recovery key updated", zap.String("device_id", dev.ID))
	return dev, true, nil
}

// ReportDesktop stores a laptop or desktop installation outcome with its
// recovery keys. A completed install activates the device's approved loan.
// Errors: devicedomain.ErrDeviceNotFound, *DeviceClassError.
func (s *Service) ReportDesktop(ctx context.Context, deviceID string, rep Report) (*Outcome, error) {
	dev, err := s.resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !dev.DeviceType.IsDesktop() {
		return nil, &DeviceClassError{Class: ClassDesktop, DeviceType: dev.DeviceType}
	}
	if len(rep.RecoveryKeys) == 0 || string(rep.RecoveryKeys) == "null" {
		rep.RecoveryKeys = json.RawMessage(`{}`)
	}
	now := s.now()
	at := s.store(dev, rep, now)
	if err := s.Devices.SetInstallation(ctx, dev.ID, rep.Completed, at, rep.RecoveryKeys); err != nil {
		return nil, fmt.Errorf("store installation: %w", err)
	}
	dev.RecoveryKey = rep.RecoveryKeys

	out := &Outcome{Device: dev}
	notes := fmt.Sprintf("Desktop installation status: %s. Reason: %s", outcomeWord(rep.Completed), rep.Reason)
	if rep.Completed {
		out.ActivatedLoan = s.activateLoan(ctx, dev.ID)
		notes += fmt.Sprintf(". Loan auto-activated: %t", out.ActivatedLoan != "")
	}
	s.History.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:      dev.ID,
		Action:        historydomain.ActionInfoUpdate,
		Actor:         "agent",
		Notes:         notes,
		ChangedFields: []string{"installation_completed", "installation_completed_at", "disk_recovery_key"},
		OldValues:     map[string]any{"installation_completed": false, "disk_recovery_key": nil},
		NewValues: map[string]any{
			"installation_completed":    rep.Completed,
			"installation_completed_at": formatTime(at),
			"disk_recovery_key":         devicedomain.MaskRecoveryKey(rep.RecoveryKeys),
		},
		IPAddress: rep.IPAddress,
	})
	s.Log.Info("desktop installation reported",
		zap.String("device_id", dev.ID),
		zap.Bool("completed", rep.Completed),
		zap.String("reason", rep.Reason),
		zap.String("activated_loan", out.ActivatedLoan))

	if s.Payments != nil {
		out.NextPayment = s.Payments.NextPayment(ctx, dev)
	}
	out.ServerTime = now.In(s.Location)
	return out, nil
}

// ReportMobile stores a phone or tablet installation outcome.
// Errors: devicedomain.ErrDeviceNotFound, *DeviceClassError.
func (s *Service) ReportMobile(ctx context.Context, deviceID string, rep Report) (*Outcome, error) {
	dev, err := s.resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !dev.DeviceType.IsMobile() {
		return nil, &DeviceClassError{Class: ClassMobile, DeviceType: dev.DeviceType}
	}
	now := s.now()
	at := s.store(dev, rep, now)
	if err := s.Devices.SetInstallation(ctx, dev.ID, rep.Completed, at, nil); err != nil {
		return nil, fmt.Errorf("store installation: %w", err)
	}
	s.History.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:      dev.ID,
		Action:        historydomain.ActionInfoUpdate,
		Actor:         "agent",
		Notes:         fmt.Sprintf("Mobile installation status: %s. Reason: %s", outcomeWord(rep.Completed), rep.Reason),
		ChangedFields: []string{"installation_completed", "installation_completed_at"},
		OldValues:     map[string]any{"installation_completed": false},
		NewValues: map[string]any{
			"installation_completed":    rep.Completed,
			"installation_completed_at": formatTime(at),
		},
		IPAddress: rep.IPAddress,
	})
	s.Log.Info("mobile installation reported",
		zap.String("device_id", dev.ID), zap.Bool("completed", rep.Completed), zap.String("reason", rep.Reason))
	return &Outcome{Device: dev, ServerTime: now.In(s.Location)}, nil
}

// store applies rep to dev and returns the completion time to persist, nil when not completed.
func (s *Service) store(dev *devicedomain.Device, rep Report, now time.Time) *time.Time {
	dev.InstallationCompleted = rep.Completed
	if !rep.Completed {
		return nil
	}
	at := now.UTC()
	dev.InstallationCompletedAt = &at
	return &at
}

func (s *Service) activateLoan(ctx context.Context, deviceID string) string {
	if s.Loans == nil {
		return ""
	}
	number, err := s.Loans.ActivateApproved(ctx, deviceID)
	if err != nil {
		s.Log.Error("loan auto-activation failed", zap.String("device_id", deviceID), zap.Error(err))
		return ""
	}
	if number != "" {
		s.Log.Info("loan auto-activated after installation",
			zap.String("device_id", deviceID), zap.String("loan_number", number))
	}
	return number
}

func (s *Service) loaned(ctx context.Context, deviceID string) bool {
	if s.Loans == nil {
		return false
	}
	open, err := s.Loans.HasOpenLoan(ctx, deviceID)
	if err != nil {
		s.Log.Warn("loan status check failed", zap.String("device_id", deviceID), zap.Error(err))
		return false
	}
	return open
}

func (s *Service) resolve(ctx context.Context, deviceID string) (*devicedomain.Device, error) {
	dev, err := s.Devices.GetByID(ctx, strings.TrimSpace(deviceID))
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, devicedomain.ErrDeviceNotFound
	}
	return dev, nil
}

func outcomeWord(completed bool) string {
	if completed {
		return "completed"
	}
	return "failed"
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
