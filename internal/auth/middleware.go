package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Role constants.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Scope constants.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// healthPath is reachable without credentials so probes keep working when
// tokens are misconfigured.
const healthPath = "/api/v1/health"

// Middleware handles authentication and authorization. A nil verifier means
// auth is disabled: every request is given anonymous operator claims.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates the auth middleware. Pass nil to disable auth.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// Enabled reports whether requests are actually verified.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// RequireAuth wraps a handler so it only runs with valid claims in context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			next(w, r)
			return
		}

		if m.verifier == nil {
			ctx := context.WithValue(r.Context(), ClaimsKey, anonymousClaims())
			next(w, r.WithContext(ctx))
			return
		}

		token, err := m.extractBearerToken(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"Authentication required")
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope wraps a handler so it only runs when the claims in context
// carry every listed scope.
func (m *Middleware) RequireScope(requiredScopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromRequest(r)
			if claims == nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required")
				return
			}

			if !hasRequiredScopes(claims, requiredScopes) {
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN",
					"Insufficient permissions")
				return
			}

			next(w, r)
		}
	}
}

// RequireAnyScope wraps a handler so it only runs when the claims in context
// carry at least one of the listed scopes.
func (m *Middleware) RequireAnyScope(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromRequest(r)
			if claims == nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required")
				return
			}

			if !hasAnyScope(claims, scopes) {
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN",
					"Insufficient permissions")
				return
			}

			next(w, r)
		}
	}
}

// RequireRole wraps a handler so it only runs when the claims in context
// carry at least one of the listed roles.
func (m *Middleware) RequireRole(requiredRoles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromRequest(r)
			if claims == nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required")
				return
			}

			if !hasAnyRole(claims, requiredRoles) {
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN",
					"Insufficient permissions")
				return
			}

			next(w, r)
		}
	}
}

// extractBearerToken extracts the bearer token from the Authorization header.
func (m *Middleware) extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", fmt.Errorf("empty token")
	}

	return token, nil
}

// anonymousClaims is what every request runs as when auth is disabled.
func anonymousClaims() *Claims {
	return &Claims{
		Subject: "anonymous",
		Roles:   []string{RoleOperator},
		Scopes:  []string{ScopeRead, ScopeControl, ScopeTelemetry},
	}
}

// hasRequiredScopes checks that claims carry every required scope.
func hasRequiredScopes(claims *Claims, requiredScopes []string) bool {
	if claims == nil {
		return false
	}

	for _, required := range requiredScopes {
		found := false
		for _, scope := range claims.Scopes {
			if scope == required {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// hasAnyScope checks that claims carry at least one of the listed scopes.
func hasAnyScope(claims *Claims, scopes []string) bool {
	if claims == nil {
		return false
	}

	for _, wanted := range scopes {
		for _, scope := range claims.Scopes {
			if scope == wanted {
				return true
			}
		}
	}

	return false
}

// hasAnyRole checks that claims carry at least one required role. An empty
// requirement always passes.
func hasAnyRole(claims *Claims, requiredRoles []string) bool {
	if claims == nil {
		return false
	}
	if len(requiredRoles) == 0 {
		return true
	}

	for _, required := range requiredRoles {
		for _, role := range claims.Roles {
			if role == required {
				return true
			}
		}
	}

	return false
}

// GetClaimsFromRequest extracts claims from the request context.
// This is a helper function for use in handlers.
func GetClaimsFromRequest(r *http.Request) *Claims {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// SubjectFromRequest returns the authenticated subject, or "" when the
// request carries no claims.
func SubjectFromRequest(r *http.Request) string {
	if claims := GetClaimsFromRequest(r); claims != nil {
		return claims.Subject
	}
	return ""
}

// CanControl checks if the claims allow command submission.
func CanControl(claims *Claims) bool {
	return hasRequiredScopes(claims, []string{ScopeControl})
}

// CanAccessTelemetry checks if the claims allow telemetry access.
func CanAccessTelemetry(claims *Claims) bool {
	return hasRequiredScopes(claims, []string{ScopeTelemetry})
}

// writeAuthError writes an error response in the API envelope format. The
// auth layer rejects before the router's response helpers run, so it carries
// its own copy. The correlation middleware stamps the response header before
// auth runs; reuse that ID so rejected requests stay traceable.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	corrID := w.Header().Get("X-Correlation-ID")
	if corrID == "" {
		corrID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": corrID,
	})
}
