package domain

import "time"

// SignalType classifies a tamper signal.
type SignalType string

const (
	TypeDeviceTampered SignalType = "device_tampered"
	TypeSecurityBreach SignalType = "security_breach"
	TypeSystemAlert    SignalType = "system_alert"
	TypeSecurityAlert  SignalType = "security_alert"
)

// Level is the urgency of a signal.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
)

// Signal is a security event raised against a device. Append-only.
type Signal struct {
	ID                string     `json:"id"`
	DeviceID          string     `json:"device_id"`
	Type              SignalType `json:"signal_type"`
	Level             Level      `json:"level"`
	Description       string     `json:"description"`
	AutoActionTaken   bool       `json:"auto_action_taken"`
	ActionDescription string     `json:"action_description,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
