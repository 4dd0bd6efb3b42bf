// Package auth provides JWT-based authentication for kgforge-engine.
// It validates tokens issued by the platform identity service using
// JWKS endpoints.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims is the JWT claims structure issued by the platform identity
// service. It embeds RegisteredClaims for standard JWT fields (sub, iss,
// exp) and adds the tenancy claims every scoped request needs.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tid,omitempty"` // Tenant UUID
	WorkspaceID string   `json:"wid,omitempty"` // Workspace UUID within the tenant
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"` // Roles within the workspace
	Source      string   `json:"src,omitempty"`   // How the actor acts: import, editor, system
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// ExtractScopeFromContext extracts the workspace ID, tenant ID and user ID
// from JWT claims in context. Returns an error if not authenticated or the
// tenancy claims are malformed.
func ExtractScopeFromContext(ctx context.Context) (workspaceID, tenantID uuid.UUID, userID string, err error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil, uuid.Nil, "", fmt.Errorf("authentication required: no claims in context")
	}

	if claims.WorkspaceID == "" {
		return uuid.Nil, uuid.Nil, "", fmt.Errorf("missing workspace ID in JWT claims")
	}
	workspaceID, err = uuid.Parse(claims.WorkspaceID)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", fmt.Errorf("invalid workspace ID format: %w", err)
	}

	if claims.TenantID != "" {
		tenantID, err = uuid.Parse(claims.TenantID)
		if err != nil {
			return uuid.Nil, uuid.Nil, "", fmt.Errorf("invalid tenant ID format: %w", err)
		}
	}

	return workspaceID, tenantID, claims.Subject, nil
}
