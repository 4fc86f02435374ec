package service

import (
	"sort"
	"strings"
)

// ValidationError is a rejected registration or confirmation payload.
// Errors maps field names to messages when the failure is field specific.
type ValidationError struct {
	Message string
	Field   string
	Errors  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return e.Message + " (" + strings.Join(fields, ", ") + ")"
}

func invalid(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Message: msg, Field: field, Errors: map[string]string{field: msg}}
}
