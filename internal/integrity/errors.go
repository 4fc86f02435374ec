package integrity

import "strings"

// UnexpectedFieldsError reports payload keys the device category does not accept.
type UnexpectedFieldsError struct {
	Fields []string
}

func (e *UnexpectedFieldsError) Error() string {
	return "unexpected fields: " + strings.Join(e.Fields, ", ")
}

// CheckFields returns an *UnexpectedFieldsError when payload has keys outside accepted.
func CheckFields(accepted FieldSet, payload map[string]any) error {
	if extra := UnexpectedFields(accepted, payload); len(extra) > 0 {
		return &UnexpectedFieldsError{Fields: extra}
	}
	return nil
}
