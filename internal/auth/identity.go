package auth

import (
	"context"
	"fmt"
	"strings"
)

// Role is the access level carried in a token.
type Role string

const (
	// RoleDevice may only push telemetry.
	RoleDevice   Role = "device"
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{RoleViewer: 1, RoleOperator: 2, RoleAdmin: 3}

// ParseRole accepts a role name in any case.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if role == RoleDevice {
		return role, nil
	}
	if _, ok := roleRank[role]; ok {
		return role, nil
	}
	return "", fmt.Errorf("auth: unknown role %q", value)
}

// Allows reports whether r satisfies required. Devices are limited to
// device routes; operators and admins may use those too.
func (r Role) Allows(required Role) bool {
	if required == RoleDevice {
		return r == RoleDevice || r == RoleOperator || r == RoleAdmin
	}
	if r == RoleDevice {
		return false
	}
	return roleRank[r] >= roleRank[required]
}

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Role    Role
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller attached by the middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.Subject != ""
}

// Actor names the caller for audit records; unauthenticated work is "system".
func Actor(ctx context.Context) string {
	if id, ok := IdentityFrom(ctx); ok {
		return id.Subject
	}
	return "system"
}
