package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/psicare/psicare/internal/observability"
	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/policy"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Grants  GrantChecker
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// RequireMenu ensures the session role may see the given navigation entry.
// Menu grants come from the default policy table only.
func (m Middleware) RequireMenu(menu policy.Menu) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				m.deny(w, "menu", http.StatusUnauthorized)
				return
			}
			if !principal.Role.CanAccess(menu) {
				m.deny(w, "menu", http.StatusForbidden)
				return
			}
			m.Metrics.ObserveAuthz("menu", "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAction ensures the session role may run action on module.
func (m Middleware) RequireAction(module policy.Module, action policy.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				m.deny(w, "action", http.StatusUnauthorized)
				return
			}
			allowed, err := m.Allowed(r.Context(), principal, module.String(), action.String())
			if err != nil {
				m.logger().Error("rbac require action", slog.String("module", module.String()), slog.String("action", action.String()), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if !allowed {
				m.deny(w, "action", http.StatusForbidden)
				return
			}
			m.Metrics.ObserveAuthz("action", "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// Allowed checks the default table first and falls back to the registry
// role's assigned permissions.
func (m Middleware) Allowed(ctx context.Context, principal Principal, module, action string) (bool, error) {
	if policy.CanDoAction(principal.Role.String(), module, action) {
		return true, nil
	}
	if m.Grants == nil || principal.RoleName == "" {
		return false, nil
	}
	return m.Grants.Can(ctx, principal.RoleName, module, action)
}

func (m Middleware) deny(w http.ResponseWriter, kind string, status int) {
	m.Metrics.ObserveAuthz(kind, "denied")
	httpx.Problem(w, status, http.StatusText(status), "")
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
