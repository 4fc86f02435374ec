package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fleet-control-plane/internal/history/domain"
	historyrepo "fleet-control-plane/internal/history/repository"
)

type mockHistoryRepo struct {
	mu        sync.Mutex
	entries   []*domain.Entry
	createErr error
}

func (m *mockHistoryRepo) Create(ctx context.Context, e *domain.Entry) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockHistoryRepo) FirstByAction(ctx context.Context, deviceID, action string) (*domain.Entry, error) {
	return nil, nil
}

func (m *mockHistoryRepo) ListByDevice(ctx context.Context, deviceID string, f historyrepo.ListFilter) ([]*domain.Entry, error) {
	return nil, nil
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Clock{now: func() time.Time { return fixed }}

	a, b, d := c.Now(), c.Now(), c.Now()
	if !a.Equal(fixed) {
		t.Errorf("first = %v, want %v", a, fixed)
	}
	if !b.After(a) || !d.After(b) {
		t.Errorf("timestamps not increasing: %v %v %v", a, b, d)
	}
	if d.Sub(a) != 2*time.Microsecond {
		t.Errorf("step = %v, want 2µs", d.Sub(a))
	}
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClock()
	const n = 200
	out := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- c.Now().UnixMicro()
		}()
	}
	wg.Wait()
	close(out)
	seen := make(map[int64]bool, n)
	for v := range out {
		if seen[v] {
			t.Fatalf("duplicate timestamp %d", v)
		}
		seen[v] = true
	}
}

func TestRecorder_Record(t *testing.T) {
	repo := &mockHistoryRepo{}
	r := NewRecorder(repo, nil)

	e := &domain.Entry{DeviceID: "dev-1", Action: domain.ActionLock}
	if err := r.Record(context.Background(), e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	if e.ID == "" {
		t.Error("ID should be assigned")
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt should be assigned")
	}
}

func TestRecorder_StampKeepsID(t *testing.T) {
	r := NewRecorder(&mockHistoryRepo{}, nil)
	e := &domain.Entry{ID: "fixed"}
	r.Stamp(e)
	if e.ID != "fixed" {
		t.Errorf("ID = %q, want %q", e.ID, "fixed")
	}
}

func TestRecorder_RecordBestEffort_LogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	repo := &mockHistoryRepo{createErr: errors.New("db down")}
	r := NewRecorder(repo, zap.New(core))

	r.RecordBestEffort(context.Background(), &domain.Entry{DeviceID: "dev-1", Action: domain.ActionHeartbeat})

	entries := logs.FilterMessage("history write failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["device_id"]; got != "dev-1" {
		t.Errorf("device_id = %v, want %q", got, "dev-1")
	}
}

func TestRecorder_RecordBestEffort_NilRepo(t *testing.T) {
	r := NewRecorder(nil, nil)
	r.RecordBestEffort(context.Background(), &domain.Entry{DeviceID: "dev-1"})
}
