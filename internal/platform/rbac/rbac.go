// Package rbac gates admin endpoints by the role carried in the access token.
package rbac

import (
	"net/http"
	"slices"

	"fleet-control-plane/internal/server/middleware"
	"fleet-control-plane/internal/server/respond"
)

// Operator roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// ReadRoles may view device status and history.
var ReadRoles = []string{RoleAdmin, RoleOperator, RoleViewer}

// WriteRoles may lock, unlock and request deactivation.
var WriteRoles = []string{RoleAdmin, RoleOperator}

// RequireRole allows the request through when the authenticated operator has one
// of roles. It must run after middleware.Bearer. Unauthenticated is 401, a
// missing role is 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := middleware.Subject(r.Context()); !ok {
				respond.Error(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			role, _ := middleware.Role(r.Context())
			if !slices.Contains(roles, role) {
				respond.Error(w, http.StatusForbidden, "Permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
