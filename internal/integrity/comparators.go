package integrity

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// ramToleranceGB is how far reported RAM may fall below the baseline before it is a mismatch.
const ramToleranceGB = 1.0

var ramPattern = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*GB`)

// compareExact compares canonical forms.
func compareExact(registered, current any) FieldStatus {
	r, c := Canonical(registered), Canonical(current)
	if reflect.DeepEqual(r, c) {
		return StatusMatched
	}
	if isFalsy(r) && isFalsy(c) {
		return StatusBothEmpty
	}
	return StatusMismatch
}

type imeiOutcome struct {
	ok            bool
	baselineCount int
	currentCount  int
	missing       []string
}

// decreased reports a subset match with fewer IMEIs than the baseline.
func (o imeiOutcome) decreased() bool {
	return o.ok && o.currentCount < o.baselineCount
}

func (o imeiOutcome) warning() string {
	return fmt.Sprintf(
		"IMEI count decreased from %d to %d (%d missing). Possible SIM removal or concealed SIM swap; manual review recommended.",
		o.baselineCount, o.currentCount, o.baselineCount-o.currentCount)
}

// compareIMEIs accepts any current list that is a subset of the baseline.
// Either side empty is a match.
func compareIMEIs(registered, current any) imeiOutcome {
	reg, cur := stringList(registered), stringList(current)
	if len(reg) == 0 || len(cur) == 0 {
		return imeiOutcome{ok: true}
	}
	inBaseline := NewFieldSet(reg...)
	for _, c := range cur {
		if !inBaseline.Has(c) {
			return imeiOutcome{ok: false, baselineCount: len(reg), currentCount: len(cur)}
		}
	}
	out := imeiOutcome{ok: true, baselineCount: len(reg), currentCount: len(cur)}
	if len(cur) < len(reg) {
		reported := NewFieldSet(cur...)
		for _, r := range reg {
			if !reported.Has(r) {
				out.missing = append(out.missing, r)
			}
		}
	}
	return out
}

func stringList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		raw = []string{t}
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			raw = append(raw, stringify(item))
		}
	default:
		raw = []string{stringify(v)}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}

type ramOutcome struct {
	ok                      bool
	registeredGB, currentGB float64
	minAllowedGB            float64
}

// compareRAM applies the tolerance to the first "<n> GB" token of each side.
// Unparseable or missing values match.
func compareRAM(registered, current any) ramOutcome {
	reg, okR := extractGB(registered)
	cur, okC := extractGB(current)
	if !okR || !okC {
		return ramOutcome{ok: true}
	}
	min := reg - ramToleranceGB
	return ramOutcome{ok: cur >= min, registeredGB: reg, currentGB: cur, minAllowedGB: min}
}

func extractGB(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return 0, false
	}
	m := ramPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
