// Package middleware holds the HTTP middleware shared by the device and admin APIs.
package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey struct{ name string }

var (
	subjectKey = contextKey{"subject"}
	roleKey    = contextKey{"role"}
)

// WithIdentity returns a context carrying the authenticated operator.
func WithIdentity(ctx context.Context, subject, role string) context.Context {
	ctx = context.WithValue(ctx, subjectKey, subject)
	return context.WithValue(ctx, roleKey, role)
}

// Subject returns the operator name set by Bearer, or "", false.
func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	return v, ok && v != ""
}

// Role returns the operator role set by Bearer, or "", false.
func Role(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	return v, ok
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
