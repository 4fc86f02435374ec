package integrity

import (
	"sort"
	"strings"
)

// NoIMEISentinel marks a mobile payload that carried no IMEI (Wi-Fi only tablets).
const NoIMEISentinel = "NO_IMEI_FOUND"

// source locates a raw value: a top-level key when wrapper is empty,
// otherwise a key inside a wrapper object.
type source struct {
	wrapper string
	key     string
}

func flat(key string) source        { return source{key: key} }
func in(wrapper, key string) source { return source{wrapper: wrapper, key: key} }

// rule resolves one canonical field. The first source holding a present value wins.
type rule struct {
	field     string
	sources   []source
	present   func(any) bool
	transform func(any) any
	fallback  any
}

var securityFlags = []string{
	"is_device_rooted",
	"is_usb_debugging_enabled",
	"is_developer_mode_enabled",
	"is_bootloader_unlocked",
	"is_custom_rom",
}

var rules = buildRules()

func buildRules() []rule {
	rs := []rule{
		{field: "loan_number", sources: []source{flat("loan_number"), in("device_info", "loan_number"), in("registration_info", "loan_number")}},
		{field: "device_id", sources: []source{flat("device_id"), in("device_info", "device_id")}},
		{field: "android_id", sources: []source{flat("android_id"), in("device_info", "android_id"), in("device_info", "device_id")}},
		{field: "model", sources: []source{flat("model"), in("device_info", "model")}},
		{field: "manufacturer", sources: []source{flat("manufacturer"), in("device_info", "manufacturer")}},
		{field: "platform", sources: []source{flat("platform"), in("device_info", "hardware"), flat("hardware")}},
		{field: "system_type", sources: []source{flat("system_type"), in("device_info", "device"), flat("device")}},
		{field: "processor", sources: []source{flat("processor"), in("device_info", "hardware"), flat("hardware")}},
		{field: "os_version", sources: []source{flat("os_version"), flat("android_version"), in("android_info", "version_release")}},
		{field: "os_edition", sources: []source{flat("os_edition"), in("android_info", "version_incremental")}},
		{field: "sdk_version", sources: []source{flat("sdk_version"), in("android_info", "version_sdk_int")}},
		{field: "security_patch_level", sources: []source{flat("security_patch_level"), in("android_info", "security_patch")}},
		{field: "installed_ram", sources: []source{flat("installed_ram"), in("storage_info", "installed_ram")}, transform: stripSpace},
		{field: "total_storage", sources: []source{flat("total_storage"), in("storage_info", "total_storage")}, transform: stripSpace},
		{field: "device_fingerprint", sources: []source{flat("device_fingerprint"), in("device_info", "fingerprint"), flat("fingerprint")}},
		{field: "bootloader", sources: []source{flat("bootloader"), in("device_info", "bootloader")}},
		{field: "installed_apps_hash", sources: []source{flat("installed_apps_hash"), in("system_integrity", "installed_apps_hash")}},
		{field: "system_properties_hash", sources: []source{flat("system_properties_hash"), in("system_integrity", "system_properties_hash")}},
		{field: "latitude", sources: []source{flat("latitude"), in("location_info", "latitude")}},
		{field: "longitude", sources: []source{flat("longitude"), in("location_info", "longitude")}},
		{field: "serial_number", sources: []source{flat("serial_number"), flat("serial"), in("device_info", "serial")}},
		{field: "machine_name", sources: []source{flat("machine_name"), in("device_info", "machine_name")}},
		{
			field:     "device_imeis",
			sources:   []source{flat("device_imeis"), flat("imeis"), in("imei_info", "device_imeis"), in("device_info", "imeis")},
			present:   presentNonEmptyList,
			transform: imeiList,
			fallback:  []string{NoIMEISentinel},
		},
	}
	for _, f := range securityFlags {
		rs = append(rs, rule{field: f, sources: []source{flat(f), in("security_info", f)}})
	}
	return rs
}

// Normalize flattens an agent payload into canonical fields for category,
// keeping only the fields AllowedFields permits and dropping null or empty strings.
func Normalize(category string, custom []string, payload map[string]any) map[string]any {
	allowed := AllowedFields(category, custom)
	out := make(map[string]any, len(payload))

	for _, r := range rules {
		present := r.present
		if present == nil {
			present = isPresent
		}
		v, ok := resolve(payload, r.sources, present)
		switch {
		case ok && r.transform != nil:
			out[r.field] = r.transform(v)
		case ok:
			out[r.field] = v
		case r.fallback != nil:
			out[r.field] = r.fallback
		}
	}
	for k, v := range payload {
		if _, done := out[k]; !done && allowed.Has(k) {
			out[k] = v
		}
	}
	for k, v := range out {
		if !allowed.Has(k) || !isPresent(v) {
			delete(out, k)
		}
	}
	return out
}

// UnexpectedFields returns the top-level payload keys outside accepted, sorted.
func UnexpectedFields(accepted FieldSet, payload map[string]any) []string {
	var extra []string
	for k := range payload {
		if !accepted.Has(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

func resolve(payload map[string]any, sources []source, present func(any) bool) (any, bool) {
	for _, s := range sources {
		var v any
		if s.wrapper == "" {
			v = payload[s.key]
		} else if w := wrapper(payload, s.wrapper); w != nil {
			v = w[s.key]
		}
		if present(v) {
			return v, true
		}
	}
	return nil, false
}

// wrapper returns the named nested object. device_data is an alias of device_info.
func wrapper(payload map[string]any, name string) map[string]any {
	if w, ok := payload[name].(map[string]any); ok && len(w) > 0 {
		return w
	}
	if name == "device_info" {
		if w, ok := payload["device_data"].(map[string]any); ok {
			return w
		}
	}
	return nil
}

func isPresent(v any) bool {
	if v == nil {
		return false
	}
	s, ok := v.(string)
	return !ok || s != ""
}

func presentNonEmptyList(v any) bool {
	switch l := v.(type) {
	case []any:
		return len(l) > 0
	case []string:
		return len(l) > 0
	}
	return isPresent(v)
}

func stripSpace(v any) any {
	return strings.Join(strings.Fields(stringify(v)), "")
}

func imeiList(v any) any {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringify(item))
		}
		return out
	}
	return []string{stringify(v)}
}
