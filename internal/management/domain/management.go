package domain

import (
	"errors"
	"time"
)

// Status is the management lock state of a device.
type Status string

const (
	StatusActive Status = "active"
	StatusLocked Status = "locked"
)

// Commands recorded as last_command.
const (
	CommandLock   = "LOCK"
	CommandUnlock = "UNLOCK"
)

var (
	ErrAlreadyLocked = errors.New("device is already locked")
	ErrNotLocked     = errors.New("device is not locked")
)

// State is the optional one-to-one management record of a device.
type State struct {
	DeviceID      string
	Status        Status
	BlockReason   string
	BlockedAt     *time.Time
	LockedBy      string
	LastCommand   string
	LastCommandAt *time.Time
	UpdatedAt     time.Time
}

// Locked reports whether the state is locked.
func (s *State) Locked() bool {
	return s != nil && s.Status == StatusLocked
}
