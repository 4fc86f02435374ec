package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var ErrCategoryNotFound = errors.New("device category not found")

// FieldType is the value type of a custom category field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
	FieldBoolean FieldType = "boolean"
	FieldList    FieldType = "list"
	FieldJSON    FieldType = "json"
)

// Field describes one extra registration field of a category.
type Field struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	MaxLength *int      `json:"max_length,omitempty"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
}

// Category groups devices that register with the same field schema.
// System categories (mobile, desktop) carry no extra fields.
type Category struct {
	Slug        string
	DisplayName string
	IsSystem    bool
	Fields      []Field
}

// FieldNames returns the names of the category's extra fields in declaration order.
func (c *Category) FieldNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// Extract pulls the category's fields out of payload and coerces them.
// errs maps field name to a message; data holds the coerced values of fields that passed.
func (c *Category) Extract(payload map[string]any) (data map[string]any, errs map[string]string) {
	data = map[string]any{}
	errs = map[string]string{}
	if c == nil {
		return data, errs
	}
	for _, f := range c.Fields {
		raw, ok := payload[f.Name]
		empty := !ok || raw == nil || raw == ""
		if empty {
			if f.Required {
				errs[f.Name] = "This field is required."
			}
			continue
		}
		v, err := f.Coerce(raw)
		if err != nil {
			errs[f.Name] = err.Error()
			continue
		}
		data[f.Name] = v
	}
	return data, errs
}

// Coerce converts v to the field's type and checks its bounds.
func (f Field) Coerce(v any) (any, error) {
	switch f.Type {
	case FieldString:
		s := toString(v)
		if f.MaxLength != nil && utf8.RuneCountInString(s) > *f.MaxLength {
			return nil, fmt.Errorf("max length %d", *f.MaxLength)
		}
		return s, nil
	case FieldInteger:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if err := f.checkRange(float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case FieldFloat:
		x, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if err := f.checkRange(x); err != nil {
			return nil, err
		}
		return x, nil
	case FieldBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
		}
		return nil, errors.New("invalid boolean")
	case FieldList:
		if l, ok := v.([]any); ok {
			return l, nil
		}
		return nil, errors.New("invalid list")
	case FieldJSON:
		switch v.(type) {
		case map[string]any, []any:
			return v, nil
		}
		return nil, errors.New("invalid json")
	}
	return v, nil
}

func (f Field) checkRange(x float64) error {
	if f.Min != nil && x < *f.Min {
		return fmt.Errorf("min %s", formatBound(*f.Min))
	}
	if f.Max != nil && x > *f.Max {
		return fmt.Errorf("max %s", formatBound(*f.Max))
	}
	return nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("invalid integer")
		}
		return n, nil
	}
	return 0, errors.New("invalid integer")
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("invalid float")
		}
		return x, nil
	}
	return 0, errors.New("invalid float")
}

func formatBound(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
