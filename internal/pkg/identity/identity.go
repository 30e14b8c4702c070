// Package identity models the verified caller supplied by the external
// authenticator. The core never inspects raw credentials; it consumes a
// resolved (user id, role) pair.
package identity

import (
	"context"
	"strings"

	"github.com/chainpass/core/internal/pkg/fault"
)

// Role is the caller's capability within a session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Identity is a verified caller.
type Identity struct {
	UserID string
	Role   Role
}

// Resolver turns authenticator output into an Identity. Implementations may
// consult an external directory; the default trusts the role claim embedded
// in the verified token.
type Resolver interface {
	Resolve(ctx context.Context, userID, roleClaim string) (Identity, error)
}

// ClaimsResolver resolves the role directly from the token claim.
type ClaimsResolver struct{}

func (ClaimsResolver) Resolve(_ context.Context, userID, roleClaim string) (Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return Identity{}, fault.New(fault.KindAuth, fault.CodeUnauthorized, "missing user id")
	}
	switch Role(strings.ToLower(strings.TrimSpace(roleClaim))) {
	case RoleTeacher:
		return Identity{UserID: userID, Role: RoleTeacher}, nil
	case RoleStudent:
		return Identity{UserID: userID, Role: RoleStudent}, nil
	default:
		return Identity{}, fault.New(fault.KindAuth, fault.CodeForbidden, "unknown role")
	}
}
