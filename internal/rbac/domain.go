// Package rbac guards HTTP routes with the default policy table and the
// dynamic role registry.
package rbac

import (
	"context"

	"github.com/psicare/psicare/internal/policy"
	"github.com/psicare/psicare/internal/shared"
)

// GrantChecker answers action checks for registry roles, including custom
// roles that the default table does not know.
type GrantChecker interface {
	Can(ctx context.Context, roleName, module, action string) (bool, error)
}

// Principal describes the authenticated actor as seen by the guards.
type Principal struct {
	UserID   string
	Role     policy.Role
	RoleName string
}

// PrincipalFromContext reads the principal from the request session.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil || sess.User() == "" {
		return Principal{}, false
	}
	return Principal{UserID: sess.User(), Role: sess.Role(), RoleName: sess.RoleName()}, true
}
