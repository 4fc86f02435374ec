package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/management/domain"
)

func newRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	return NewPostgresRepository(sqlx.NewDb(raw, "sqlmock")), mock
}

func TestLockIfUnlocked_Transitions(t *testing.T) {
	repo, mock := newRepo(t)
	at := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_locked FROM devices WHERE device_id = \$1 FOR UPDATE`).WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows([]string{"is_locked"}).AddRow(false))
	mock.ExpectExec(`UPDATE devices SET is_locked`).WithArgs("dev-1", true).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO device_management`).
		WithArgs("dev-1", "locked", "Device security compromised: is_device_rooted", at, nil, domain.CommandLock).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	locked, err := repo.LockIfUnlocked(context.Background(), Transition{
		DeviceID: "dev-1", Reason: "Device security compromised: is_device_rooted", At: at,
	})
	if err != nil {
		t.Fatalf("LockIfUnlocked: %v", err)
	}
	if !locked {
		t.Error("locked = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLockIfUnlocked_AlreadyLockedIsNoop(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"is_locked"}).AddRow(true))
	mock.ExpectCommit()

	locked, err := repo.LockIfUnlocked(context.Background(), Transition{DeviceID: "dev-1", At: time.Now()})
	if err != nil {
		t.Fatalf("LockIfUnlocked: %v", err)
	}
	if locked {
		t.Error("locked = true, want false for an already locked device")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLockIfUnlocked_RollsBackOnFailure(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"is_locked"}).AddRow(false))
	mock.ExpectExec(`UPDATE devices SET is_locked`).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	if _, err := repo.LockIfUnlocked(context.Background(), Transition{DeviceID: "dev-1", At: time.Now()}); err == nil {
		t.Error("LockIfUnlocked should return the update error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUnlockIfLocked(t *testing.T) {
	repo, mock := newRepo(t)
	at := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"is_locked"}).AddRow(true))
	mock.ExpectExec(`UPDATE devices SET is_locked`).WithArgs("dev-1", false).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO device_management`).WithArgs("dev-1", "active", domain.CommandUnlock, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	unlocked, err := repo.UnlockIfLocked(context.Background(), Transition{DeviceID: "dev-1", Actor: "admin", At: at})
	if err != nil || !unlocked {
		t.Errorf("UnlockIfLocked = (%v, %v), want (true, nil)", unlocked, err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(`FROM device_management`).WillReturnRows(sqlmock.NewRows([]string{"device_id"}))

	s, err := repo.Get(context.Background(), "dev-1")
	if err != nil || s != nil {
		t.Errorf("Get = (%v, %v), want (nil, nil)", s, err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	mock.ExpectQuery(`FROM device_management`).WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "status", "block_reason", "blocked_at", "locked_by", "last_command", "last_command_at", "updated_at"}).
			AddRow("dev-1", "locked", "manual", now, "admin", "LOCK", now, now))

	s, err := repo.Get(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !s.Locked() || s.BlockReason != "manual" || s.BlockedAt == nil {
		t.Errorf("state = %+v", s)
	}
}
