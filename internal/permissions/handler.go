package permissions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/policy"
	"github.com/psicare/psicare/internal/rbac"
)

// Handler serves the permission catalog API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAction(policy.ModulePermissoes, policy.ActionVisualizar))
		r.Get("/", h.list)
		r.Get("/modules", h.modules)
		r.Get("/actions", h.actions)
	})
	r.With(h.rbac.RequireAction(policy.ModulePermissoes, policy.ActionCriar)).Post("/", h.create)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAction(policy.ModulePermissoes, policy.ActionEditar))
		r.Put("/{id}", h.update)
		r.Patch("/{id}/toggle", h.toggle)
	})
	r.With(h.rbac.RequireAction(policy.ModulePermissoes, policy.ActionDeletar)).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) modules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.service.Modules(r.Context())
	if err != nil {
		h.fail(w, "list permission modules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, modules)
}

func (h *Handler) actions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.service.Actions(r.Context())
	if err != nil {
		h.fail(w, "list permission actions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, actions)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.ToggleActive(r.Context(), id)
	if err != nil {
		h.fail(w, "toggle permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
