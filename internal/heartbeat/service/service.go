// Package service processes agent heartbeats: it compares them with the
// registration baseline, persists the outcome and applies automatic responses.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	categoryrepo "fleet-control-plane/internal/category/repository"
	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/heartbeat/domain"
	hbrepo "fleet-control-plane/internal/heartbeat/repository"
	"fleet-control-plane/internal/history"
	historydomain "fleet-control-plane/internal/history/domain"
	"fleet-control-plane/internal/integrity"
	loandomain "fleet-control-plane/internal/loan/domain"
	"fleet-control-plane/internal/tamper"
	tamperdomain "fleet-control-plane/internal/tamper/domain"
)

const instrumentationName = "fleet-control-plane/heartbeat"

const autoLockActionDescription = "Device automatically locked due to security violations"

// Devices is the slice of the device store a heartbeat touches.
type Devices interface {
	GetByID(ctx context.Context, id string) (*devicedomain.Device, error)
	TouchHeartbeat(ctx context.Context, id string, at time.Time, ip string) error
}

// Comparer compares normalized heartbeat fields with the registration baseline.
type Comparer interface {
	Compare(ctx context.Context, device *devicedomain.Device, incoming map[string]any) (*integrity.Result, error)
}

// AutoLocker locks a device unless it is locked already.
type AutoLocker interface {
	AutoLock(ctx context.Context, deviceID, reason string) (bool, error)
}

// Deactivator runs the post-loan deactivation check.
type Deactivator interface {
	AutoRequestDeactivation(ctx context.Context, dev *devicedomain.Device) devicedomain.AutoDeactivation
}

// LoanReader supplies the payment data shown to the agent.
type LoanReader interface {
	Current(ctx context.Context, deviceID string) (*loandomain.Loan, error)
	NextInstallment(ctx context.Context, loanID string) (*loandomain.Installment, error)
	HasOverdue(ctx context.Context, deviceID string, today time.Time) (bool, error)
}

// Deps are the collaborators of a Service. Location defaults to time.Local and Log to a no-op logger.
type Deps struct {
	Devices     Devices
	Categories  categoryrepo.Repository
	Comparer    Comparer
	Snapshots   hbrepo.Repository
	History     *history.Recorder
	Signals     *tamper.Recorder
	Locker      AutoLocker
	Deactivator Deactivator
	Loans       LoanReader
	Location    *time.Location
	Log         *zap.Logger
}

// Heartbeat is one agent report.
type Heartbeat struct {
	DeviceID  string
	Payload   map[string]any
	IPAddress string
	UserAgent string
}

// Service processes heartbeats. Safe for concurrent use.
type Service struct {
	Deps
	now     func() time.Time
	tracer  trace.Tracer
	metrics metrics
}

type metrics struct {
	heartbeats metric.Int64Counter
	mismatches metric.Int64Counter
	autoLocked metric.Int64Counter
}

func newMetrics(m metric.Meter) metrics {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return metrics{
		heartbeats: counter("fleet.heartbeats", "Heartbeats processed"),
		mismatches: counter("fleet.heartbeat.mismatches", "Baseline mismatches detected, by severity"),
		autoLocked: counter("fleet.devices.auto_locked", "Devices locked automatically after a high severity mismatch"),
	}
}

// NewService returns a heartbeat service using the global OTel tracer and meter providers.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Service{
		Deps:    d,
		now:     time.Now,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newMetrics(otel.Meter(instrumentationName)),
	}
}

// Process handles one heartbeat and builds the agent response. Keys the device
// category does not allow are dropped during normalization, never rejected.
// Errors: devicedomain.ErrDeviceNotFound, or a storage failure that happened
// before the snapshot was written.
func (s *Service) Process(ctx context.Context, hb Heartbeat) (resp *Response, err error) {
	ctx, span := s.tracer.Start(ctx, "heartbeat.Process", trace.WithAttributes(attribute.String("device.id", hb.DeviceID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dev, err := s.Devices.GetByID(ctx, hb.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if dev == nil {
		return nil, devicedomain.ErrDeviceNotFound
	}

	custom, err := s.customFields(ctx, dev.Category)
	if err != nil {
		return nil, err
	}
	incoming := integrity.Normalize(dev.Category, custom, hb.Payload)

	res, err := s.Comparer.Compare(ctx, dev, incoming)
	if err != nil {
		return nil, err
	}
	s.metrics.heartbeats.Add(ctx, 1)
	span.SetAttributes(
		attribute.Int("heartbeat.mismatches", res.TotalMismatches),
		attribute.String("heartbeat.baseline_status", string(res.BaselineStatus)),
	)

	now := s.now().UTC()
	snap := &domain.Snapshot{
		ID:                  uuid.New().String(),
		DeviceID:            dev.ID,
		Data:                incoming,
		Comparison:          res,
		MismatchesDetected:  res.TotalMismatches > 0,
		HighSeverityCount:   res.HighSeverityCount,
		MediumSeverityCount: res.MediumSeverityCount,
		IPAddress:           hb.IPAddress,
		UserAgent:           hb.UserAgent,
		CreatedAt:           now,
	}
	if err := s.Snapshots.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("store heartbeat snapshot: %w", err)
	}

	s.recordHeartbeat(ctx, dev, snap, res, hb.IPAddress)
	if err := s.Devices.TouchHeartbeat(ctx, dev.ID, now, hb.IPAddress); err != nil {
		s.Log.Warn("last seen update failed", zap.String("device_id", dev.ID), zap.Error(err))
	} else {
		dev.IsOnline = true
		dev.LastSeenAt = &now
	}

	if res.TotalMismatches > 0 {
		s.metrics.mismatches.Add(ctx, int64(res.HighSeverityCount), metric.WithAttributes(attribute.String("severity", string(integrity.SeverityHigh))))
		s.metrics.mismatches.Add(ctx, int64(res.MediumSeverityCount), metric.WithAttributes(attribute.String("severity", string(integrity.SeverityMedium))))
		s.Log.Info("heartbeat mismatches",
			zap.String("device_id", dev.ID),
			zap.Int("total", res.TotalMismatches),
			zap.Int("high", res.HighSeverityCount),
			zap.Int("medium", res.MediumSeverityCount),
			zap.Strings("fields", res.Fields()))
	}
	if res.ShouldAutoLock {
		s.autoLock(ctx, dev, snap, res, hb.IPAddress)
	}
	if res.TotalMismatches > 0 {
		s.raiseMismatchSignal(ctx, dev, res)
	}

	var deact devicedomain.AutoDeactivation
	if s.Deactivator != nil {
		deact = s.Deactivator.AutoRequestDeactivation(ctx, dev)
	}
	return s.buildResponse(ctx, dev, res, deact), nil
}

// customFields returns the extra field names of a custom category.
func (s *Service) customFields(ctx context.Context, slug string) ([]string, error) {
	if slug == devicedomain.CategoryMobile || slug == devicedomain.CategoryDesktop || s.Categories == nil {
		return nil, nil
	}
	cat, err := s.Categories.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("load category: %w", err)
	}
	if cat == nil {
		return nil, nil
	}
	return cat.FieldNames(), nil
}

type historyNotes struct {
	HeartbeatID     string           `json:"heartbeat_id"`
	Timestamp       string           `json:"heartbeat_timestamp"`
	Comparison      comparisonNotes  `json:"comparison_result"`
	Recommendations []Recommendation `json:"recommendations"`
}

type comparisonNotes struct {
	MismatchFields      []string                 `json:"mismatch_fields"`
	HighSeverityCount   int                      `json:"high_severity_count"`
	MediumSeverityCount int                      `json:"medium_severity_count"`
	TotalMismatches     int                      `json:"total_mismatches"`
	BaselineStatus      integrity.BaselineStatus `json:"baseline_status"`
}

func (s *Service) recordHeartbeat(ctx context.Context, dev *devicedomain.Device, snap *domain.Snapshot, res *integrity.Result, ip string) {
	notes, err := json.Marshal(historyNotes{
		HeartbeatID: snap.ID,
		Timestamp:   snap.CreatedAt.Format(time.RFC3339),
		Comparison: comparisonNotes{
			MismatchFields:      res.Fields(),
			HighSeverityCount:   res.HighSeverityCount,
			MediumSeverityCount: res.MediumSeverityCount,
			TotalMismatches:     res.TotalMismatches,
			BaselineStatus:      res.BaselineStatus,
		},
		Recommendations: Recommendations(res),
	})
	if err != nil {
		s.Log.Warn("encode heartbeat notes", zap.String("device_id", dev.ID), zap.Error(err))
	}
	action := historydomain.ActionHeartbeat
	if res.TotalMismatches > 0 {
		action = historydomain.ActionHeartbeatMismatch
	}
	s.History.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:  dev.ID,
		Action:    action,
		Actor:     "agent",
		Notes:     string(notes),
		IPAddress: ip,
	})
}

func (s *Service) autoLock(ctx context.Context, dev *devicedomain.Device, snap *domain.Snapshot, res *integrity.Result, ip string) {
	locked, err := s.Locker.AutoLock(ctx, dev.ID, res.LockReason)
	if err != nil {
		s.Log.Error("auto-lock failed", zap.String("device_id", dev.ID), zap.Error(err))
		return
	}
	if !locked {
		s.Log.Debug("device already locked", zap.String("device_id", dev.ID))
		return
	}
	dev.IsLocked = true
	s.metrics.autoLocked.Add(ctx, 1)
	s.Log.Warn("device auto-locked",
		zap.String("device_id", dev.ID),
		zap.String("lock_reason", res.LockReason))

	if err := s.Snapshots.MarkAutoLocked(ctx, snap.ID, res.LockReason); err != nil {
		s.Log.Warn("snapshot auto-lock backfill failed", zap.String("device_id", dev.ID), zap.Error(err))
	} else {
		snap.AutoLocked = true
		snap.LockReason = res.LockReason
	}
	s.History.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:      dev.ID,
		Action:        historydomain.ActionAutoLock,
		Actor:         "system",
		Notes:         res.LockReason,
		ChangedFields: []string{"is_locked"},
		OldValues:     map[string]any{"is_locked": false},
		NewValues:     map[string]any{"is_locked": true},
		IPAddress:     ip,
	})
	s.Signals.RaiseBestEffort(ctx, &tamperdomain.Signal{
		DeviceID:          dev.ID,
		Type:              tamperdomain.TypeDeviceTampered,
		Level:             tamperdomain.LevelHigh,
		Description:       res.LockReason,
		AutoActionTaken:   true,
		ActionDescription: autoLockActionDescription,
	})
}

func (s *Service) raiseMismatchSignal(ctx context.Context, dev *devicedomain.Device, res *integrity.Result) {
	sig := &tamperdomain.Signal{
		DeviceID:    dev.ID,
		Type:        tamperdomain.TypeSystemAlert,
		Level:       tamperdomain.LevelMedium,
		Description: mismatchDescription(res.Fields()),
	}
	if res.HighSeverityCount > 0 {
		sig.Type = tamperdomain.TypeSecurityBreach
		sig.Level = tamperdomain.LevelHigh
	}
	s.Signals.RaiseBestEffort(ctx, sig)
}
