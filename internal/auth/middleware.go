// internal/auth/middleware.go
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/temmyjay001/claimsflow-webhooks/pkg/api"
)

type Middleware struct {
	authService *Service
}

func NewMiddleware(authService *Service) *Middleware {
	return &Middleware{
		authService: authService,
	}
}

// Authenticate validates the bearer token and stores its claims in the context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			api.WriteUnauthorizedResponse(w, "missing authorization token")
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			api.WriteUnauthorizedResponse(w, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScopes rejects tokens missing any of the given scopes
func (m *Middleware) RequireScopes(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				api.WriteForbiddenResponse(w, "authentication required")
				return
			}
			if !hasRequiredScopes(claims.Scopes, requiredScopes) {
				api.WriteForbiddenResponse(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRequiredScopes(granted, required []string) bool {
	grantedSet := make(map[string]bool, len(granted))
	for _, scope := range granted {
		grantedSet[scope] = true
	}
	for _, scope := range required {
		if !grantedSet[scope] {
			return false
		}
	}
	return true
}

func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}

// OrganizationID returns the caller's organization, or "" when unauthenticated.
func OrganizationID(ctx context.Context) string {
	if claims, ok := GetClaims(ctx); ok {
		return claims.OrganizationID
	}
	return ""
}
