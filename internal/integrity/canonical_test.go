package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"size string", " 16 GB ", "16gb"},
		{"size string tabs", "512\tmb", "512mb"},
		{"plain string", "  SN-ABC ", "sn-abc"},
		{"bool", true, true},
		{"number", 42.0, 42.0},
		{"string list", []any{" B ", "a"}, []string{"a", "b"}},
		{"numeric list", []any{356938035643809.0, "X1"}, []string{"356938035643809", "x1"}},
		{"map", map[string]any{"k": " V "}, map[string]any{"k": "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.in))
		})
	}
}

func TestCanonical_Idempotent(t *testing.T) {
	inputs := []any{
		nil,
		"  Hello World ",
		"8 GB",
		false,
		12.5,
		[]any{"Z", " y ", 3.0},
		[]string{"b", "A"},
		map[string]any{"ram": "4 GB", "list": []any{"Q", "p"}, "none": nil},
	}
	for _, in := range inputs {
		once := Canonical(in)
		assert.Equal(t, once, Canonical(once), "input %#v", in)
	}
}

func TestIsFalsy(t *testing.T) {
	for _, v := range []any{nil, false, "", 0.0, []any{}, []string{}, map[string]any{}} {
		assert.True(t, isFalsy(v), "%#v", v)
	}
	for _, v := range []any{true, "x", 1.0, []any{"a"}, map[string]any{"a": 1}} {
		assert.False(t, isFalsy(v), "%#v", v)
	}
}
