// Package respond reads JSON request bodies and writes JSON API responses.
package respond

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20

// ErrInvalidBody is returned by Decode and DecodeObject for malformed or oversized bodies.
var ErrInvalidBody = errors.New("invalid JSON body")

// InvalidBodyMessage is the client message for ErrInvalidBody.
const InvalidBodyMessage = "Request body must be a JSON object."

// JSON writes v with status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes {"success": false, "message": message}.
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, map[string]any{"success": false, "message": message})
}

// Fail writes body with success forced to false.
func Fail(w http.ResponseWriter, code int, body map[string]any) {
	body["success"] = false
	JSON(w, code, body)
}

// DecodeObject reads a JSON object body of at most 1 MiB. An empty body is an empty object.
func DecodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	var payload map[string]any
	if err := Decode(w, r, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// Decode reads a JSON body of at most 1 MiB into v. An empty body leaves v untouched.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return ErrInvalidBody
	}
	return nil
}
