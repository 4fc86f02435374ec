package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devicedomain "fleet-control-plane/internal/device/domain"
	hbservice "fleet-control-plane/internal/heartbeat/service"
	"fleet-control-plane/internal/history"
	historydomain "fleet-control-plane/internal/history/domain"
	historyrepo "fleet-control-plane/internal/history/repository"
	"fleet-control-plane/internal/tamper"
	tamperdomain "fleet-control-plane/internal/tamper/domain"
)

type fakeDevices struct {
	byID   map[string]*devicedomain.Device
	setErr error
	keys   []json.RawMessage
	at     *time.Time
}

func (f *fakeDevices) GetByID(_ context.Context, id string) (*devicedomain.Device, error) {
	if d, ok := f.byID[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDevices) SetRecoveryKey(_ context.Context, id string, key json.RawMessage) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.keys = append(f.keys, key)
	f.byID[id].RecoveryKey = key
	return nil
}

func (f *fakeDevices) SetInstallation(_ context.Context, id string, completed bool, at *time.Time, key json.RawMessage) error {
	if f.setErr != nil {
		return f.setErr
	}
	d := f.byID[id]
	d.InstallationCompleted = completed
	f.at = at
	if key != nil {
		f.keys = append(f.keys, key)
		d.RecoveryKey = key
	}
	return nil
}

type fakeLoans struct {
	open      bool
	approved  string
	activated []string
	err       error
}

func (f *fakeLoans) HasOpenLoan(context.Context, string) (bool, error) { return f.open, nil }

func (f *fakeLoans) ActivateApproved(_ context.Context, deviceID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.activated = append(f.activated, deviceID)
	return f.approved, nil
}

type fakePayments struct{ next *hbservice.NextPayment }

func (f *fakePayments) NextPayment(context.Context, *devicedomain.Device) *hbservice.NextPayment {
	return f.next
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []*historydomain.Entry
}

func (f *fakeHistory) Create(_ context.Context, e *historydomain.Entry) error {
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

type fixture struct {
	svc      *Service
	devices  *fakeDevices
	loans    *fakeLoans
	payments *fakePayments
	history  *fakeHistory
	signals  *fakeSignals
}

var fixedNow = time.Date(2026, 2, 15, 16, 34, 7, 0, time.UTC)

func newFixture(t *testing.T, devs ...*devicedomain.Device) *fixture {
	t.Helper()
	f := &fixture{
		devices:  &fakeDevices{byID: map[string]*devicedomain.Device{}},
		loans:    &fakeLoans{},
		payments: &fakePayments{},
		history:  &fakeHistory{},
		signals:  &fakeSignals{},
	}
	for _, d := range devs {
		f.devices.byID[d.ID] = d
	}
	f.svc = NewService(Deps{
		Devices:  f.devices,
		Loans:    f.loans,
		Payments: f.payments,
		History:  history.NewRecorder(f.history, nil),
		Signals:  tamper.NewRecorder(f.signals, nil),
		Location: time.FixedZone("EAT", 3*60*60),
	})
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func laptop() *devicedomain.Device {
	return &devicedomain.Device{ID: "DESKTOP-1", DeviceType: devicedomain.TypeLaptop, Category: devicedomain.CategoryDesktop}
}

func phone() *devicedomain.Device {
	return &devicedomain.Device{ID: "AND-1", DeviceType: devicedomain.TypePhone, Category: devicedomain.CategoryMobile}
}

func TestUpdateRecoveryKey_FirstKeyNoSignal(t *testing.T) {
	f := newFixture(t, laptop())
	f.loans.open = true

	dev, changed, err := f.svc.UpdateRecoveryKey(context.Background(), "DESKTOP-1", "123456-123456-123456-123456", "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.JSONEq(t, `"123456-123456-123456-123456"`, string(dev.RecoveryKey))

	require.Len(t, f.history.entries, 1)
	e := f.history.entries[0]
	assert.Equal(t, historydomain.ActionInfoUpdate, e.Action)
	assert.Nil(t, e.OldValues["disk_recovery_key"])
	assert.Equal(t, devicedomain.RecoveryKeyMaskedValue, e.NewValues["disk_recovery_key"])
	assert.Equal(t, "10.0.0.5", e.IPAddress)
	assert.Empty(t, f.signals.created, "a first key is not a change")
}

func TestUpdateRecoveryKey_ChangedOnLoanedDeviceRaisesAlert(t *testing.T) {
	dev := laptop()
	dev.RecoveryKey = json.RawMessage(`"111111-222222-333333-444444-555555"`)
	f := newFixture(t, dev)
	f.loans.open = true

	_, changed, err := f.svc.UpdateRecoveryKey(context.Background(), "DESKTOP-1", "999999-888888", "")
	require.NoError(t, err)
	assert.True(t, changed)

	require.Len(t, f.history.entries, 1)
	old := f.history.entries[0].OldValues["disk_recovery_key"]
	assert.Equal(t, "111111-222222-333333...", old)
	for _, v := range f.history.entries[0].NewValues {
		assert.NotContains(t, v, "999999")
	}

	require.Len(t, f.signals.created, 1)
	s := f.signals.created[0]
	assert.Equal(t, tamperdomain.TypeSecurityAlert, s.Type)
	assert.Equal(t, tamperdomain.LevelMedium, s.Level)
	assert.Equal(t, "DESKTOP-1", s.DeviceID)
}

func TestUpdateRecoveryKey_ChangedWithoutLoanNoAlert(t *testing.T) {
	dev := laptop()
	dev.RecoveryKey = json.RawMessage(`{"C":"1","D":"2"}`)
	f := newFixture(t, dev)

	_, _, err := f.svc.UpdateRecoveryKey(context.Background(), "DESKTOP-1", "new-key", "")
	require.NoError(t, err)
	require.Len(t, f.history.entries, 1)
	assert.Equal(t, "{...} (2 partitions)", f.history.entries[0].OldValues["disk_recovery_key"])
	assert.Empty(t, f.signals.created)
}

func TestUpdateRecoveryKey_SameKeyIsNoop(t *testing.T) {
	dev := laptop()
	dev.RecoveryKey = json.RawMessage(`"abc"`)
	f := newFixture(t, dev)
	f.loans.open = true

	_, changed, err := f.svc.UpdateRecoveryKey(context.Background(), "DESKTOP-1", "abc", "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, f.devices.keys)
	assert.Empty(t, f.history.entries)
	assert.Empty(t, f.signals.created)
}

func TestUpdateRecoveryKey_Errors(t *testing.T) {
	f := newFixture(t, laptop())
	_, _, err := f.svc.UpdateRecoveryKey(context.Background(), "MISSING", "k", "")
	assert.ErrorIs(t, err, devicedomain.ErrDeviceNotFound)

	f.devices.setErr = errors.New("db down")
	_, _, err = f.svc.UpdateRecoveryKey(context.Background(), "DESKTOP-1", "k", "")
	require.Error(t, err)
	assert.Empty(t, f.history.entries)
}

func TestReportDesktop_CompletedActivatesLoan(t *testing.T) {
	f := newFixture(t, laptop())
	f.loans.approved = "LN-DEV-001"
	f.payments.next = &hbservice.NextPayment{DateTime: "2026-03-15T23:59:00+03:00", UnlockPassword: "pw"}

	out, err := f.svc.ReportDesktop(context.Background(), "DESKTOP-1", Report{
		Completed:    true,
		Reason:       "Installation successful",
		RecoveryKeys: json.RawMessage(`{"C":"123456-789012","D":"234567-890123"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "LN-DEV-001", out.ActivatedLoan)
	assert.Equal(t, []string{"DESKTOP-1"}, f.loans.activated)
	assert.Same(t, f.payments.next, out.NextPayment)
	assert.Equal(t, "2026-02-15T19:34:07+03:00", out.ServerTime.Format(time.RFC3339))

	require.NotNil(t, f.devices.at)
	assert.True(t, f.devices.at.Equal(fixedNow))
	stored := f.devices.byID["DESKTOP-1"]
	assert.True(t, stored.InstallationCompleted)
	assert.JSONEq(t, `{"C":"123456-789012","D":"234567-890123"}`, string(stored.RecoveryKey))

	require.Len(t, f.history.entries, 1)
	e := f.history.entries[0]
	assert.Equal(t, historydomain.ActionInfoUpdate, e.Action)
	assert.Contains(t, e.Notes, "completed")
	assert.Contains(t, e.Notes, "Loan auto-activated: true")
	assert.Equal(t, "{...} (2 partitions)", e.NewValues["disk_recovery_key"])
}

func TestReportDesktop_FailedKeepsLoan(t *testing.T) {
	f := newFixture(t, laptop())
	f.loans.approved = "LN-DEV-001"

	out, err := f.svc.ReportDesktop(context.Background(), "DESKTOP-1", Report{
		Reason:       "Failed to enable BitLocker on drive D",
		RecoveryKeys: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Empty(t, out.ActivatedLoan)
	assert.Empty(t, f.loans.activated)
	assert.Nil(t, f.devices.at)
	assert.Nil(t, out.NextPayment)
	require.Len(t, f.history.entries, 1)
	assert.NotContains(t, f.history.entries[0].Notes, "Loan auto-activated")
}

func TestReportDesktop_ActivationFailureIsLogged(t *testing.T) {
	f := newFixture(t, laptop())
	f.loans.err = errors.New("db down")

	out, err := f.svc.ReportDesktop(context.Background(), "DESKTOP-1", Report{Completed: true, RecoveryKeys: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Empty(t, out.ActivatedLoan)
	assert.Contains(t, f.history.entries[0].Notes, "Loan auto-activated: false")
}

func TestReportDesktop_RejectsMobileDevice(t *testing.T) {
	f := newFixture(t, phone())
	_, err := f.svc.ReportDesktop(context.Background(), "AND-1", Report{Completed: true})
	var ce *DeviceClassError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, devicedomain.TypePhone, ce.DeviceType)
	assert.Equal(t, "This endpoint is only for desktop/laptop devices", ce.Error())
}

func TestReportMobile(t *testing.T) {
	f := newFixture(t, phone(), laptop())

	out, err := f.svc.ReportMobile(context.Background(), "AND-1", Report{Completed: true, Reason: "Device Owner activated successfully"})
	require.NoError(t, err)
	assert.Equal(t, "AND-1", out.Device.ID)
	assert.True(t, f.devices.byID["AND-1"].InstallationCompleted)
	assert.Empty(t, f.devices.keys, "mobile reports never touch the recovery key")
	assert.Empty(t, f.loans.activated)
	require.Len(t, f.history.entries, 1)
	assert.Equal(t, "Mobile installation status: completed. Reason: Device Owner activated successfully", f.history.entries[0].Notes)

	_, err = f.svc.ReportMobile(context.Background(), "DESKTOP-1", Report{})
	var ce *DeviceClassError
	require.ErrorAs(t, err, &ce)

	_, err = f.svc.ReportMobile(context.Background(), "nope", Report{})
	assert.ErrorIs(t, err, devicedomain.ErrDeviceNotFound)
}
