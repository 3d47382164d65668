package auth

import (
	"context"
	"net/http"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"

	"github.com/tilla-pos/api/internal/modules/staff"
)

// Service defines the interface for authentication-related business logic.
type Service interface {
	Login(ctx context.Context, staffID uuid.UUID, pin string) (token string, member *staff.Staff, err error)
}

// Claims is the JWT payload issued at login. Every business route reads its
// org/branch scope and role from here.
type Claims struct {
	jwt.StandardClaims
	StaffID  uuid.UUID  `json:"staff_id"`
	OrgID    uuid.UUID  `json:"org_id"`
	BranchID uuid.UUID  `json:"branch_id"`
	Role     staff.Role `json:"role"`
}

type ctxKey struct{}

// WithClaims returns a context carrying the authenticated claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext extracts the authenticated claims, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// OrgAndRole reads the org scope and role off a request. It matches
// staff.ClaimsReader, so the staff handler can take it without importing
// this package.
func OrgAndRole(r *http.Request) (uuid.UUID, staff.Role, bool) {
	c, ok := FromContext(r.Context())
	if !ok {
		return uuid.Nil, "", false
	}
	return c.OrgID, c.Role, true
}
