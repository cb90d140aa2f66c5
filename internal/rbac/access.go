package rbac

import (
	"net/http"

	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/policy"
)

// Access lists what the session role may see and do.
type Access struct {
	Role    string              `json:"role"`
	Menus   []string            `json:"menus"`
	Actions map[string][]string `json:"actions"`
}

// AccessHandler serves GET /api/me/access.
func (m Middleware) AccessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		access := Access{Role: principal.RoleName, Menus: []string{}, Actions: map[string][]string{}}
		for _, menu := range policy.Menus() {
			if policy.CanAccessMenu(principal.RoleName, menu.String()) {
				access.Menus = append(access.Menus, menu.String())
			}
		}
		for _, module := range policy.Modules() {
			for _, action := range policy.Actions() {
				allowed, err := m.Allowed(r.Context(), principal, module.String(), action.String())
				if err != nil {
					httpx.RespondError(w, err)
					return
				}
				if allowed {
					access.Actions[module.String()] = append(access.Actions[module.String()], action.String())
				}
			}
		}
		httpx.JSON(w, http.StatusOK, access)
	}
}
