package service

import (
	"context"
	"strings"
	"sync"
	"time"

	categorydomain "fleet-control-plane/internal/category/domain"
	devicedomain "fleet-control-plane/internal/device/domain"
	"fleet-control-plane/internal/heartbeat/domain"
	historydomain "fleet-control-plane/internal/history/domain"
	historyrepo "fleet-control-plane/internal/history/repository"
	loandomain "fleet-control-plane/internal/loan/domain"
	tamperdomain "fleet-control-plane/internal/tamper/domain"
)

type fakeDevices struct {
	byID     map[string]*devicedomain.Device
	getErr   error
	touchErr error
	touched  []string
}

func (f *fakeDevices) GetByID(_ context.Context, id string) (*devicedomain.Device, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for k, d := range f.byID {
		if k == id || strings.EqualFold(k, id) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDevices) TouchHeartbeat(_ context.Context, id string, _ time.Time, _ string) error {
	f.touched = append(f.touched, id)
	return f.touchErr
}

type fakeCategories struct {
	bySlug map[string]*categorydomain.Category
}

func (f *fakeCategories) GetBySlug(_ context.Context, slug string) (*categorydomain.Category, error) {
	return f.bySlug[slug], nil
}

// fakeHistory serves the registration baseline and records appended entries.
type fakeHistory struct {
	mu       sync.Mutex
	baseline map[string]any
	readErr  error
	entries  []*historydomain.Entry
}

func (f *fakeHistory) Create(_ context.Context, e *historydomain.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) FirstByAction(_ context.Context, deviceID, action string) (*historydomain.Entry, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.baseline == nil || action != historydomain.ActionCreate {
		return nil, nil
	}
	return &historydomain.Entry{DeviceID: deviceID, Action: action, NewValues: f.baseline}, nil
}

func (f *fakeHistory) ListByDevice(context.Context, string, historyrepo.ListFilter) ([]*historydomain.Entry, error) {
	return nil, nil
}

func (f *fakeHistory) byAction(action string) []*historydomain.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*historydomain.Entry
	for _, e := range f.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeSnapshots struct {
	created   []*domain.Snapshot
	createErr error
	marked    map[string]string
}

func (f *fakeSnapshots) Create(_ context.Context, s *domain.Snapshot) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, s)
	return nil
}

func (f *fakeSnapshots) MarkAutoLocked(_ context.Context, id, reason string) error {
	if f.marked == nil {
		f.marked = map[string]string{}
	}
	f.marked[id] = reason
	return nil
}

func (f *fakeSnapshots) LatestForDevice(context.Context, string) (*domain.Snapshot, error) {
	return nil, nil
}

type fakeSignals struct {
	mu      sync.Mutex
	created []*tamperdomain.Signal
}

func (f *fakeSignals) Create(_ context.Context, s *tamperdomain.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, s)
	return nil
}

func (f *fakeSignals) ListByDevice(context.Context, string, int) ([]*tamperdomain.Signal, error) {
	return nil, nil
}

func (f *fakeSignals) types() []tamperdomain.SignalType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tamperdomain.SignalType, len(f.created))
	for i, s := range f.created {
		out[i] = s.Type
	}
	return out
}

type fakeLocker struct {
	locked  bool
	err     error
	calls   int
	reasons []string
}

func (f *fakeLocker) AutoLock(_ context.Context, _ string, reason string) (bool, error) {
	f.calls++
	f.reasons = append(f.reasons, reason)
	if f.err != nil {
		return false, f.err
	}
	if f.locked {
		return false, nil
	}
	f.locked = true
	return true, nil
}

type fakeDeactivator struct {
	out devicedomain.AutoDeactivation
}

func (f *fakeDeactivator) AutoRequestDeactivation(context.Context, *devicedomain.Device) devicedomain.AutoDeactivation {
	return f.out
}

type fakeLoans struct {
	current     *loandomain.Loan
	installment *loandomain.Installment
	overdue     bool
	err         error
}

func (f *fakeLoans) Current(context.Context, string) (*loandomain.Loan, error) { return f.current, f.err }
func (f *fakeLoans) NextInstallment(context.Context, string) (*loandomain.Installment, error) {
	return f.installment, nil
}
func (f *fakeLoans) HasOverdue(context.Context, string, time.Time) (bool, error) {
	return f.overdue, f.err
}
