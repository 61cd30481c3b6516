// internal/auth/types.go
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrMissingOrg   = errors.New("token has no organization")
)

// Scopes granted to admin API tokens
const (
	ScopeWebhooksRead   = "webhooks:read"
	ScopeWebhooksManage = "webhooks:manage"
	ScopeEventsPublish  = "events:publish"
)

var AllScopes = []string{ScopeWebhooksRead, ScopeWebhooksManage, ScopeEventsPublish}

// Claims identify the organization a caller acts for. Organization
// resolution itself happens upstream; this service only trusts the claim.
type Claims struct {
	OrganizationID string   `json:"org_id"`
	Scopes         []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

const ClaimsContextKey contextKey = "auth_claims"
