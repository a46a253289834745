package auth

import (
	"context"

	domain "github.com/motomarket/api/internal/domain"
)

// Role constants used throughout the API when checking authorisation boundaries.
const (
	RoleAdmin    = domain.RoleAdmin
	RoleCustomer = domain.RoleCustomer
)

// Identity captures the authenticated principal extracted from a bearer token.
type Identity struct {
	UserID    int64
	Email     string
	FirstName string
	LastName  string
	Role      domain.Role
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role.IsAdmin()
}

// CanAccessUser reports whether the identity may act on resources owned by userID.
func (i *Identity) CanAccessUser(userID int64) bool {
	if i == nil {
		return false
	}
	return i.IsAdmin() || i.UserID == userID
}

type contextKey string

const identityContextKey contextKey = "github.com/motomarket/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
