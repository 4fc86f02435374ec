// Package service applies lock and unlock transitions to devices.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/devicelock"
	"fleet-control-plane/internal/history"
	historydomain "fleet-control-plane/internal/history/domain"
	"fleet-control-plane/internal/management/domain"
	mgmtrepo "fleet-control-plane/internal/management/repository"
)

// DeviceGetter resolves devices by id.
type DeviceGetter interface {
	GetByID(ctx context.Context, id string) (*devicedomain.Device, error)
}

// Service serializes lock state changes per device. Both the in-process or
// Redis lock and the row lock taken by the repository guard every transition.
type Service struct {
	repo    mgmtrepo.Repository
	devices DeviceGetter
	locker  devicelock.Locker
	history *history.Recorder
	now     func() time.Time
	log     *zap.Logger
}

// NewService returns a management service. log may be nil.
func NewService(repo mgmtrepo.Repository, devices DeviceGetter, locker devicelock.Locker, rec *history.Recorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, devices: devices, locker: locker, history: rec, now: time.Now, log: log}
}

// Status returns the device and its management state (nil when never managed).
func (s *Service) Status(ctx context.Context, deviceID string) (*devicedomain.Device, *domain.State, error) {
	dev, err := s.resolve(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	st, err := s.repo.Get(ctx, dev.ID)
	if err != nil {
		return nil, nil, err
	}
	return dev, st, nil
}

// Lock locks the device on behalf of actor. Returns ErrAlreadyLocked when it was locked.
func (s *Service) Lock(ctx context.Context, deviceID, actor, reason, ip string) error {
	dev, err := s.resolve(ctx, deviceID)
	if err != nil {
		return err
	}
	locked, err := s.transition(ctx, dev.ID, mgmtrepo.Transition{DeviceID: dev.ID, Reason: reason, Actor: actor}, true)
	if err != nil {
		return err
	}
	if !locked {
		return domain.ErrAlreadyLocked
	}
	s.history.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:      dev.ID,
		Action:        historydomain.ActionLock,
		Actor:         actor,
		Notes:         reason,
		ChangedFields: []string{"is_locked"},
		OldValues:     map[string]any{"is_locked": false},
		NewValues:     map[string]any{"is_locked": true},
		IPAddress:     ip,
	})
	return nil
}

// Unlock unlocks the device on behalf of actor. Returns ErrNotLocked when it was not locked.
func (s *Service) Unlock(ctx context.Context, deviceID, actor, ip string) error {
	dev, err := s.resolve(ctx, deviceID)
	if err != nil {
		return err
	}
	unlocked, err := s.transition(ctx, dev.ID, mgmtrepo.Transition{DeviceID: dev.ID, Actor: actor}, false)
	if err != nil {
		return err
	}
	if !unlocked {
		return domain.ErrNotLocked
	}
	s.history.RecordBestEffort(ctx, &historydomain.Entry{
		DeviceID:      dev.ID,
		Action:        historydomain.ActionUnlock,
		Actor:         actor,
		ChangedFields: []string{"is_locked"},
		OldValues:     map[string]any{"is_locked": true},
		NewValues:     map[string]any{"is_locked": false},
		IPAddress:     ip,
	})
	return nil
}

// AutoLock locks deviceID with reason unless it is locked already. It reports
// whether this call performed the transition. It never unlocks.
func (s *Service) AutoLock(ctx context.Context, deviceID, reason string) (bool, error) {
	return s.transition(ctx, deviceID, mgmtrepo.Transition{DeviceID: deviceID, Reason: reason}, true)
}

func (s *Service) transition(ctx context.Context, key string, t mgmtrepo.Transition, lock bool) (bool, error) {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return false, fmt.Errorf("acquire device lock: %w", err)
	}
	defer unlock()

	t.At = s.now().UTC()
	if lock {
		return s.repo.LockIfUnlocked(ctx, t)
	}
	return s.repo.UnlockIfLocked(ctx, t)
}

func (s *Service) resolve(ctx context.Context, deviceID string) (*devicedomain.Device, error) {
	dev, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, devicedomain.ErrDeviceNotFound
	}
	return dev, nil
}
