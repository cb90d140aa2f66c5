package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/shared"
)

// RoleReloader refreshes the role registry after catalog changes that
// cascade into role assignments.
type RoleReloader interface {
	Reload(ctx context.Context) error
}

// ServiceConfig tunes catalog behaviour.
type ServiceConfig struct {
	// DeleteGuard rejects deleting a permission still assigned to a role.
	DeleteGuard bool
}

// Service is the permission catalog.
type Service struct {
	repo     Repository
	validate *validator.Validate
	audit    shared.Auditor
	reloader RoleReloader
	logger   *slog.Logger
	cfg      ServiceConfig

	mu      sync.RWMutex
	loaded  bool
	modules []string
	actions []string
}

// NewService builds the catalog service. audit and logger may be nil.
func NewService(repo Repository, audit shared.Auditor, logger *slog.Logger, cfg ServiceConfig) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validate: shared.NewValidator(), audit: audit, logger: logger, cfg: cfg}
}

// SetRoleReloader wires the role registry once both services exist.
func (s *Service) SetRoleReloader(r RoleReloader) {
	s.reloader = r
}

// List returns every permission.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	perms, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// Get returns a single permission.
func (s *Service) Get(ctx context.Context, id int64) (Permission, error) {
	return s.repo.Get(ctx, id)
}

// Modules returns the distinct module values, loading them on first use.
func (s *Service) Modules(ctx context.Context) ([]string, error) {
	if err := s.ensureFacets(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.modules), nil
}

// Actions returns the distinct action values, loading them on first use.
func (s *Service) Actions(ctx context.Context) ([]string, error) {
	if err := s.ensureFacets(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.actions), nil
}

// Create adds a permission. Module and action are required; the name
// defaults to module.action.
func (s *Service) Create(ctx context.Context, in Input) (Permission, error) {
	p, err := s.prepare(in, true)
	if err != nil {
		return Permission{}, err
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	s.afterChange(ctx, "permissions.create", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// Update replaces every writable field of a permission. A nil Active keeps
// the stored flag.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Permission, error) {
	if id <= 0 {
		return Permission{}, fmt.Errorf("%w: invalid permission id", httpx.ErrValidation)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	p, err := s.prepare(in, current.Active)
	if err != nil {
		return Permission{}, err
	}
	p.ID = id
	updated, err := s.repo.Update(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	s.afterChange(ctx, "permissions.update", id, map[string]any{"name": updated.Name})
	s.reloadRoles(ctx)
	return updated, nil
}

// ToggleActive flips the active flag.
func (s *Service) ToggleActive(ctx context.Context, id int64) (Permission, error) {
	p, err := s.repo.ToggleActive(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	s.afterChange(ctx, "permissions.toggle", id, map[string]any{"active": p.Active})
	s.reloadRoles(ctx)
	return p, nil
}

// Delete removes a permission. Assignments cascade unless DeleteGuard is on,
// in which case in-use permissions are rejected with a conflict.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if s.cfg.DeleteGuard {
		n, err := s.repo.CountAssignments(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: permission %d is assigned to %d role(s)", httpx.ErrConflict, id, n)
		}
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("permission %d: %w", id, httpx.ErrNotFound)
	}
	s.afterChange(ctx, "permissions.delete", id, nil)
	s.reloadRoles(ctx)
	return nil
}

func (s *Service) prepare(in Input, defaultActive bool) (Permission, error) {
	in = in.normalize()
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return Permission{}, err
	}
	key := Key(in.Module, in.Action)
	if in.Name == "" {
		in.Name = key
	}
	if in.Name != key {
		return Permission{}, fmt.Errorf("%w: name %q must match %q", httpx.ErrValidation, in.Name, key)
	}
	active := defaultActive
	if in.Active != nil {
		active = *in.Active
	}
	return Permission{
		Name:        in.Name,
		Description: in.Description,
		Module:      in.Module,
		Action:      in.Action,
		Active:      active,
	}, nil
}

func (s *Service) afterChange(ctx context.Context, action string, id int64, meta map[string]any) {
	if err := s.refreshFacets(ctx); err != nil {
		s.logger.Warn("refresh permission facets", slog.Any("error", err))
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "permission", EntityID: id, Meta: meta}); err != nil {
		s.logger.Warn("audit permission change", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) reloadRoles(ctx context.Context) {
	if s.reloader == nil {
		return
	}
	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Warn("reload roles after permission change", slog.Any("error", err))
	}
}

func (s *Service) ensureFacets(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.refreshFacets(ctx)
}

func (s *Service) refreshFacets(ctx context.Context) error {
	modules, err := s.repo.DistinctModules(ctx)
	if err != nil {
		s.invalidateFacets()
		return err
	}
	actions, err := s.repo.DistinctActions(ctx)
	if err != nil {
		s.invalidateFacets()
		return err
	}
	if modules == nil {
		modules = []string{}
	}
	if actions == nil {
		actions = []string{}
	}
	s.mu.Lock()
	s.modules, s.actions, s.loaded = modules, actions, true
	s.mu.Unlock()
	return nil
}

func (s *Service) invalidateFacets() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}
