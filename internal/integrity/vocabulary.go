package integrity

import (
	"sort"

	devicedomain "fleet-control-plane/internal/device/domain"
)

// FieldSet is a set of payload field names.
type FieldSet map[string]struct{}

// NewFieldSet returns a set holding names.
func NewFieldSet(names ...string) FieldSet {
	s := make(FieldSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in s.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Union returns a new set with the members of s and all others.
func (s FieldSet) Union(others ...FieldSet) FieldSet {
	out := make(FieldSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	for _, o := range others {
		for k := range o {
			out[k] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s FieldSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Canonical field sets per registration category.
var (
	MobileBaseFields = NewFieldSet(
		"device_id", "loan_number", "device_type", "manufacturer", "model", "platform",
		"system_type", "os_version", "os_edition", "processor", "installed_ram", "total_storage",
		"build_number", "sdk_version", "system_uptime", "installed_apps_hash",
		"system_properties_hash", "tamper_severity", "tamper_flags", "battery_level", "language",
		"latitude", "longitude", "android_id", "bootloader", "security_patch_level",
	)
	MobileOnlyFields = NewFieldSet(
		"device_imeis", "serial_number", "machine_name", "device_fingerprint",
		"is_device_rooted", "is_usb_debugging_enabled", "is_developer_mode_enabled",
		"is_bootloader_unlocked", "is_custom_rom",
	)
	// MobileRawFields are the top-level keys a mobile agent may send before normalization.
	MobileRawFields = NewFieldSet(
		"loan_number", "device_id", "android_id", "model", "manufacturer", "brand", "product",
		"device", "board", "hardware", "build_id", "build_type", "build_tags", "build_time",
		"build_user", "build_host", "fingerprint", "bootloader",
		"android_info", "imei_info", "storage_info", "location_info", "app_info", "security_info",
		"system_integrity", "device_info", "device_data", "registration_info",
		"device_imeis", "imeis", "serial_number", "serial", "machine_name", "android_version",
	)
	DesktopAllowedFields = NewFieldSet(
		"device_id", "loan_number", "device_type", "manufacturer", "model", "platform",
		"system_type", "os_version", "os_edition", "processor", "installed_ram", "total_storage",
		"serial_number", "machine_name",
	)
	DesktopOnlyFields  = NewFieldSet("disk_recovery_key")
	CategoryBaseFields = NewFieldSet(
		"device_id", "loan_number", "device_type", "manufacturer", "model", "platform",
		"system_type", "os_version", "os_edition", "processor", "installed_ram", "total_storage",
	)
)

// TrackedFields are compared against the registration baseline, in this order.
var TrackedFields = []string{
	"device_imeis",
	"serial_number",
	"installed_ram",
	"total_storage",
	"is_device_rooted",
	"is_usb_debugging_enabled",
	"is_developer_mode_enabled",
	"is_bootloader_unlocked",
	"is_custom_rom",
}

// desktopSkipFields are never compared for laptops and desktops.
var desktopSkipFields = NewFieldSet(
	"device_imeis",
	"is_device_rooted",
	"is_usb_debugging_enabled",
	"is_developer_mode_enabled",
	"is_bootloader_unlocked",
	"serial_number",
	"total_storage",
	"is_custom_rom",
)

// AllowedFields returns the canonical fields kept for category. custom lists the
// field names of a custom category and is ignored for the built-in ones.
func AllowedFields(category string, custom []string) FieldSet {
	switch category {
	case devicedomain.CategoryMobile:
		return MobileBaseFields.Union(MobileOnlyFields)
	case devicedomain.CategoryDesktop:
		return DesktopAllowedFields.Union(DesktopOnlyFields)
	default:
		return CategoryBaseFields.Union(NewFieldSet(custom...))
	}
}

// AcceptedRawFields returns the top-level keys accepted from an agent for category.
// Mobile agents may send wrapper objects and aliases as well as canonical fields.
func AcceptedRawFields(category string, custom []string) FieldSet {
	if category == devicedomain.CategoryMobile {
		return MobileRawFields.Union(AllowedFields(category, nil))
	}
	return AllowedFields(category, custom)
}

// Skips reports whether field is not compared for devices of type t.
func Skips(t devicedomain.DeviceType, field string) bool {
	return t.IsDesktop() && desktopSkipFields.Has(field)
}

// isTracked reports whether field is in TrackedFields.
func isTracked(field string) bool {
	for _, f := range TrackedFields {
		if f == field {
			return true
		}
	}
	return false
}

// BaselineFrom extracts the tracked fields of a normalized registration payload.
// The result is stored as the immutable registration baseline.
func BaselineFrom(normalized map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range normalized {
		if isTracked(k) {
			out[k] = v
		}
	}
	return out
}
