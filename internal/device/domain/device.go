package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DeviceType is the hardware class an agent registers as.
type DeviceType string

const (
	TypePhone   DeviceType = "phone"
	TypeTablet  DeviceType = "tablet"
	TypeLaptop  DeviceType = "laptop"
	TypeDesktop DeviceType = "desktop"
	TypeOther   DeviceType = "other"
)

// ParseDeviceType maps s to a DeviceType. ok is false for values outside the enum.
func ParseDeviceType(s string) (DeviceType, bool) {
	switch t := DeviceType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypePhone, TypeTablet, TypeLaptop, TypeDesktop, TypeOther:
		return t, true
	}
	return "", false
}

// IsMobile reports whether t is a phone or tablet.
func (t DeviceType) IsMobile() bool {
	return t == TypePhone || t == TypeTablet
}

// IsDesktop reports whether t is a laptop or desktop.
func (t DeviceType) IsDesktop() bool {
	return t == TypeLaptop || t == TypeDesktop
}

// Built-in registration categories. Custom categories use their own slug.
const (
	CategoryMobile  = "mobile"
	CategoryDesktop = "desktop"
)

// Device represents a registered agent device and its last observed state.
type Device struct {
	ID                    string
	DeviceType            DeviceType
	Category              string
	LoanNumber            string
	Manufacturer          string
	Model                 string
	SerialNumber          string
	Fingerprint           string
	IsLocked              bool
	IsOnline              bool
	LastSeenAt            *time.Time
	IPAddress             string
	DeactivateRequested   bool
	DeactivatedAt         *time.Time
	PendingUnlockPassword string
	// RecoveryKey is the disk encryption key escrow: a JSON string from the
	// dedicated endpoint or a drive letter to key object from installation.
	RecoveryKey             json.RawMessage
	InstallationCompleted   bool
	InstallationCompletedAt *time.Time
	CreatedAt               time.Time
}

// Deactivation reasons reported to the agent.
const DeactivationLoanCompleted = "loan_completed"

// AutoDeactivation is the outcome of the post-loan deactivation check run on each heartbeat.
type AutoDeactivation struct {
	Requested  bool
	Reason     string
	LoanNumber string
}

// RecoveryKeyMaskedValue replaces a stored recovery key in history entries.
const RecoveryKeyMaskedValue = "REDACTED (Saved)"

const recoveryKeyVisiblePrefix = 20

// MaskRecoveryKey renders a stored key for the audit trail without exposing it.
// An object becomes "{...} (N partitions)" and a string keeps its first 20
// characters. Empty or null keys return nil.
func MaskRecoveryKey(raw json.RawMessage) any {
	if emptyKey(raw) {
		return nil
	}
	var partitions map[string]any
	if err := json.Unmarshal(raw, &partitions); err == nil {
		return fmt.Sprintf("{...} (%d partitions)", len(partitions))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > recoveryKeyVisiblePrefix {
		s = string([]rune(s)[:recoveryKeyVisiblePrefix])
	}
	return s + "..."
}

// SameRecoveryKey reports whether two stored keys hold the same JSON value.
func SameRecoveryKey(a, b json.RawMessage) bool {
	if emptyKey(a) || emptyKey(b) {
		return emptyKey(a) == emptyKey(b)
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return string(ca) == string(cb)
}

func emptyKey(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
