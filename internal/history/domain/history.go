package domain

import "time"

// Action names recorded in the device audit trail.
const (
	ActionCreate                = "create"
	ActionHeartbeat             = "heartbeat"
	ActionHeartbeatMismatch     = "heartbeat_mismatch"
	ActionLock                  = "lock"
	ActionUnlock                = "unlock"
	ActionAutoLock              = "auto_lock"
	ActionDeactivationRequested = "deactivation_requested"
	ActionDeactivationConfirmed = "deactivation_confirmed"
	ActionDeactivationFailed    = "deactivation_failed"
	ActionInfoUpdate            = "info_update"
)

// Entry is one append-only audit record for a device. The first entry with
// Action "create" carries the registration baseline in NewValues.
type Entry struct {
	ID            string
	DeviceID      string
	Action        string
	Actor         string
	Notes         string
	ChangedFields []string
	OldValues     map[string]any
	NewValues     map[string]any
	IPAddress     string
	CreatedAt     time.Time
}
