package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	categorydomain "fleet-control-plane/internal/category/domain"
	"fleet-control-plane/internal/device/domain"
	historydomain "fleet-control-plane/internal/history/domain"
	historyrepo "fleet-control-plane/internal/history/repository"
	loandomain "fleet-control-plane/internal/loan/domain"
)

type fakeDevices struct {
	mu        sync.Mutex
	byID      map[string]*domain.Device
	getErr    error
	createErr error
	reqErr    error
	requested []string
	confirmed map[string]time.Time
}

func newFakeDevices(devs ...*domain.Device) *fakeDevices {
	f := &fakeDevices{byID: map[string]*domain.Device{}, confirmed: map[string]time.Time{}}
	for _, d := range devs {
		f.byID[d.ID] = d
	}
	return f
}

func (f *fakeDevices) GetByID(_ context.Context, id string) (*domain.Device, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.byID[id]; ok {
		cp := *d
		return &cp, nil
	}
	for k, d := range f.byID {
		if strings.EqualFold(k, id) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDevices) Create(_ context.Context, d *domain.Device) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[d.ID] = d
	return nil
}

func (f *fakeDevices) TouchHeartbeat(context.Context, string, time.Time, string) error { return nil }

func (f *fakeDevices) RequestDeactivation(_ context.Context, id string) (bool, error) {
	if f.reqErr != nil {
		return false, f.reqErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.byID[id]
	if d == nil || d.DeactivateRequested || d.DeactivatedAt != nil {
		return false, nil
	}
	d.DeactivateRequested = true
	f.requested = append(f.requested, id)
	return true, nil
}

func (f *fakeDevices) ConfirmDeactivation(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed[id] = at
	if d := f.byID[id]; d != nil {
		d.DeactivateRequested = false
		d.DeactivatedAt = &at
	}
	return nil
}

func (f *fakeDevices) SetRecoveryKey(_ context.Context, id string, key json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.byID[id]; d != nil {
		d.RecoveryKey = key
	}
	return nil
}

func (f *fakeDevices) SetInstallation(_ context.Context, id string, completed bool, at *time.Time, key json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.byID[id]; d != nil {
		d.InstallationCompleted = completed
		if at != nil {
			d.InstallationCompletedAt = at
		}
		if key != nil {
			d.RecoveryKey = key
		}
	}
	return nil
}

type fakeLoans struct {
	byNumber  map[string]*loandomain.Loan
	open      bool
	openErr   error
	completed *loandomain.Loan
	attached  map[string]string
}

func (f *fakeLoans) FindByNumber(_ context.Context, n string) (*loandomain.Loan, error) {
	return f.byNumber[n], nil
}
func (f *fakeLoans) Current(context.Context, string) (*loandomain.Loan, error) { return nil, nil }
func (f *fakeLoans) NextInstallment(context.Context, string) (*loandomain.Installment, error) {
	return nil, nil
}
func (f *fakeLoans) HasOverdue(context.Context, string, time.Time) (bool, error) { return false, nil }
func (f *fakeLoans) HasOpenLoan(context.Context, string) (bool, error)          { return f.open, f.openErr }
func (f *fakeLoans) LatestCompleted(context.Context, string) (*loandomain.Loan, error) {
	return f.completed, nil
}
func (f *fakeLoans) ActivateApproved(context.Context, string) (string, error) { return "", nil }
func (f *fakeLoans) AttachDevice(_ context.Context, loanID, deviceID string) error {
	if f.attached == nil {
		f.attached = map[string]string{}
	}
	f.attached[loanID] = deviceID
	return nil
}

type fakeCategories struct {
	bySlug map[string]*categorydomain.Category
}

func (f *fakeCategories) GetBySlug(_ context.Context, slug string) (*categorydomain.Category, error) {
	return f.bySlug[slug], nil
}

type fakeHistory struct {
	mu        sync.Mutex
	entries   []*historydomain.Entry
	createErr error
}

func (f *fakeHistory) Create(_ context.Context, e *historydomain.Entry) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) FirstByAction(context.Context, string, string) (*historydomain.Entry, error) {
	return nil, nil
}

func (f *fakeHistory) ListByDevice(context.Context, string, historyrepo.ListFilter) ([]*historydomain.Entry, error) {
	return nil, nil
}

func (f *fakeHistory) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

// fakeTx runs fn against the same fakes. rolledBack is set when fn fails.
type fakeTx struct {
	repos      TxRepos
	rolledBack bool
}

func (f *fakeTx) WithinTx(_ context.Context, fn func(TxRepos) error) error {
	if err := fn(f.repos); err != nil {
		f.rolledBack = true
		return err
	}
	return nil
}
