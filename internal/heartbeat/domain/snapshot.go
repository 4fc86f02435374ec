package domain

import "time"

// Snapshot is one received heartbeat with its comparison outcome. Append-only;
// AutoLocked and LockReason are back-filled once when the heartbeat triggers a lock.
type Snapshot struct {
	ID                  string
	DeviceID            string
	Data                map[string]any
	Comparison          any
	MismatchesDetected  bool
	HighSeverityCount   int
	MediumSeverityCount int
	AutoLocked          bool
	LockReason          string
	IPAddress           string
	UserAgent           string
	CreatedAt           time.Time
}
