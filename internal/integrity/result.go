package integrity

// FieldStatus is the outcome of comparing one tracked field.
type FieldStatus string

const (
	StatusMatched            FieldStatus = "matched"
	StatusMismatch           FieldStatus = "mismatch"
	StatusMatchedWithWarning FieldStatus = "matched_with_warning"
	StatusBothEmpty          FieldStatus = "both_empty"
)

// BaselineStatus describes the registration baseline a comparison ran against.
type BaselineStatus string

const (
	BaselineNotEstablished BaselineStatus = "not_established"
	BaselineEmpty          BaselineStatus = "empty_baseline"
	BaselineEstablished    BaselineStatus = "established"
)

// Mismatch is one drifted field.
type Mismatch struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
}

// FieldDetail records how a compared field was classified. It never holds raw values.
type FieldDetail struct {
	Status   FieldStatus `json:"status"`
	Severity Severity    `json:"severity,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Warning  string      `json:"warning,omitempty"`
}

// Result is the outcome of comparing one heartbeat against the baseline.
type Result struct {
	Mismatches          []Mismatch             `json:"mismatches"`
	HighSeverityCount   int                    `json:"high_severity_count"`
	MediumSeverityCount int                    `json:"medium_severity_count"`
	TotalMismatches     int                    `json:"total_mismatches"`
	ShouldAutoLock      bool                   `json:"should_auto_lock"`
	LockReason          string                 `json:"lock_reason,omitempty"`
	Details             map[string]FieldDetail `json:"comparison_details"`
	BaselineStatus      BaselineStatus         `json:"baseline_status"`
}

func newResult(status BaselineStatus) *Result {
	return &Result{
		Mismatches:     []Mismatch{},
		Details:        map[string]FieldDetail{},
		BaselineStatus: status,
	}
}

func (r *Result) addMismatch(field string, sev Severity) {
	reason := ReasonFor(field)
	r.Mismatches = append(r.Mismatches, Mismatch{Field: field, Severity: sev, Reason: reason})
	r.Details[field] = FieldDetail{Status: StatusMismatch, Severity: sev, Reason: reason}
	if sev == SeverityHigh {
		r.HighSeverityCount++
	} else {
		r.MediumSeverityCount++
	}
	r.TotalMismatches++
}

// Fields returns the mismatched field names in comparison order.
func (r *Result) Fields() []string {
	out := make([]string, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		out = append(out, m.Field)
	}
	return out
}

// HighFields returns the high severity field names in comparison order.
func (r *Result) HighFields() []string {
	var out []string
	for _, m := range r.Mismatches {
		if m.Severity == SeverityHigh {
			out = append(out, m.Field)
		}
	}
	return out
}
