package integrity

// Severity ranks a mismatched field.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

var highSeverityFields = NewFieldSet(
	"serial_number",
	"device_imeis",
	"is_device_rooted",
	"is_usb_debugging_enabled",
	"is_developer_mode_enabled",
	"is_bootloader_unlocked",
)

// Reasons never include baseline or reported values.
var mismatchReasons = map[string]string{
	"serial_number":             "Device serial number mismatch detected",
	"device_imeis":              "Device IMEI mismatch detected",
	"is_device_rooted":          "Device rooting status changed",
	"is_usb_debugging_enabled":  "USB debugging status changed",
	"is_developer_mode_enabled": "Developer mode status changed",
	"is_bootloader_unlocked":    "Bootloader unlock status changed",
	"is_custom_rom":             "Custom ROM status changed",
	"installed_ram":             "Device RAM configuration changed",
	"total_storage":             "Device storage configuration changed",
}

// SeverityOf classifies field. Fields outside the high set are medium.
func SeverityOf(field string) Severity {
	if highSeverityFields.Has(field) {
		return SeverityHigh
	}
	return SeverityMedium
}

// ReasonFor returns the fixed, value-free mismatch reason for field.
func ReasonFor(field string) string {
	if r, ok := mismatchReasons[field]; ok {
		return r
	}
	return "Field '" + field + "' value changed"
}
