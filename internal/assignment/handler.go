package assignment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/policy"
	"github.com/psicare/psicare/internal/rbac"
	"github.com/psicare/psicare/internal/roles"
	"github.com/psicare/psicare/internal/shared"
)

// SessionKey holds the serialized workflow in the admin's session.
const SessionKey = "assignment.workflow"

// RoleService loads and persists roles for the workflow.
type RoleService interface {
	RoleUpdater
	Get(ctx context.Context, id int64) (roles.Role, error)
}

// Handler exposes the workflow over HTTP.
type Handler struct {
	logger   *slog.Logger
	roles    RoleService
	defaults *Defaults
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, roles RoleService, defaults *Defaults, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, roles: roles, defaults: defaults, rbac: rbac}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAction(policy.ModulePerfis, policy.ActionVisualizar)).Get("/", h.show)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAction(policy.ModulePerfis, policy.ActionEditar))
		r.Post("/{roleID}", h.begin)
		r.Post("/toggle/{permissionID}", h.toggle)
		r.Put("/", h.replace)
		r.Post("/submit", h.submit)
		r.Delete("/", h.cancel)
		r.Post("/defaults", h.applyDefaults)
	})
}

type replaceRequest struct {
	PermissionIDs []int64 `json:"permissionIds"`
}

type submitResponse struct {
	Workflow Workflow   `json:"workflow"`
	Role     roles.Role `json:"role"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	wf, _, ok := h.load(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, wf)
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request) {
	wf, sess, ok := h.load(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.roles.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "load role for assignment", err)
		return
	}
	if err := wf.Begin(role); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.save(w, sess, wf, http.StatusOK)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	wf, sess, ok := h.load(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := wf.Toggle(id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.save(w, sess, wf, http.StatusOK)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	wf, sess, ok := h.load(w, r)
	if !ok {
		return
	}
	var req replaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := wf.Replace(req.PermissionIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.save(w, sess, wf, http.StatusOK)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	wf, sess, ok := h.load(w, r)
	if !ok {
		return
	}
	role, err := wf.Submit(r.Context(), h.roles)
	if err != nil {
		if wf.State == StateEditing {
			// keep the failed working set for the next attempt
			if storeErr := store(sess, wf); storeErr != nil {
				h.logger.Error("store assignment workflow", slog.Any("error", storeErr))
			}
		}
		h.fail(w, "submit assignment", err)
		return
	}
	if err := store(sess, wf); err != nil {
		h.fail(w, "store assignment workflow", err)
		return
	}
	httpx.JSON(w, http.StatusOK, submitResponse{Workflow: wf, Role: role})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	wf, sess, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := wf.Cancel(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.save(w, sess, wf, http.StatusOK)
}

func (h *Handler) applyDefaults(w http.ResponseWriter, r *http.Request) {
	snap, err := h.defaults.ApplyDefaults(r.Context())
	if err != nil {
		h.fail(w, "apply default assignments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (Workflow, *shared.Session, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return Workflow{}, nil, false
	}
	wf := Workflow{State: StateIdle}
	if raw := sess.Get(SessionKey); raw != "" {
		if err := json.Unmarshal([]byte(raw), &wf); err != nil {
			h.logger.Warn("discard corrupt assignment workflow", slog.Any("error", err))
			wf = Workflow{State: StateIdle}
		}
	}
	return wf, sess, true
}

func (h *Handler) save(w http.ResponseWriter, sess *shared.Session, wf Workflow, status int) {
	if err := store(sess, wf); err != nil {
		h.fail(w, "store assignment workflow", err)
		return
	}
	httpx.JSON(w, status, wf)
}

func store(sess *shared.Session, wf Workflow) error {
	if wf.state() == StateIdle {
		sess.Delete(SessionKey)
		return nil
	}
	raw, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	sess.Set(SessionKey, string(raw))
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
