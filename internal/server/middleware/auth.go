package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"fleet-control-plane/internal/security"
	"fleet-control-plane/internal/server/respond"
)

const bearerPrefix = "bearer "

// Header names always accepted for the device API key.
const (
	HeaderDeviceAPIKey = "X-Device-Api-Key"
	HeaderAPIKey       = "X-API-Key"
)

// DeviceAPIKey guards agent endpoints with the shared device key. The key is read
// from header, then X-Device-Api-Key, then X-API-Key. Missing is 401, wrong is 403,
// and an unset server key is 500.
func DeviceAPIKey(expected, header string, log *zap.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = HeaderDeviceAPIKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				respond.Error(w, http.StatusInternalServerError, "Device API key not configured.")
				return
			}
			provided := firstHeader(r, header, HeaderDeviceAPIKey, HeaderAPIKey)
			if provided == "" {
				log.Warn("device agent auth failed: missing api key",
					zap.String("header", header),
					zap.String("ip", ClientIP(r)),
					zap.String("user_agent", r.UserAgent()))
				respond.Fail(w, http.StatusUnauthorized, map[string]any{
					"message": "Device agent API key is required.",
					"hint":    "Send header " + header + ": <device-agent-key>",
				})
				return
			}
			if !security.APIKeyEqual(provided, expected) {
				log.Warn("device agent auth failed: invalid api key",
					zap.String("header", header),
					zap.String("ip", ClientIP(r)),
					zap.String("user_agent", r.UserAgent()))
				respond.Fail(w, http.StatusForbidden, map[string]any{
					"message": "Invalid device agent API key.",
					"hint":    "Verify header " + header + " matches server key.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func firstHeader(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.Header.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

// TokenValidator validates admin access tokens.
type TokenValidator interface {
	ValidateAccess(token string) (*security.AccessClaims, error)
}

// Bearer requires a valid admin access token and stores the operator identity in the request context.
func Bearer(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				respond.Error(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			claims, err := tokens.ValidateAccess(token)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			ctx := WithIdentity(r.Context(), claims.Subject, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
