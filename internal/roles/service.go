package roles

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/psicare/psicare/internal/observability"
	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/shared"
)

// FetchMode selects how List resolves permission sets.
type FetchMode string

const (
	// FetchBatch loads roles and permissions with a single query.
	FetchBatch FetchMode = "batch"
	// FetchPerRole lists roles, then resolves each one with GetRole.
	FetchPerRole FetchMode = "per_role"
)

// SnapshotWriter receives the full role list after every reload.
type SnapshotWriter interface {
	Replace(ctx context.Context, roles []Role) error
}

// ServiceConfig tunes registry behaviour.
type ServiceConfig struct {
	FetchMode   FetchMode
	Concurrency int
}

// Service is the role registry.
type Service struct {
	repo     Repository
	validate *validator.Validate
	audit    shared.Auditor
	logger   *slog.Logger
	metrics  *observability.Metrics
	snapshot SnapshotWriter
	cfg      ServiceConfig

	mu      sync.RWMutex
	current []Role
	loaded  bool
}

// NewService builds the registry. audit, logger and metrics may be nil.
func NewService(repo Repository, audit shared.Auditor, logger *slog.Logger, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchMode == "" {
		cfg.FetchMode = FetchBatch
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Service{repo: repo, validate: shared.NewValidator(), audit: audit, logger: logger, metrics: metrics, cfg: cfg}
}

// SetSnapshotWriter wires the cache that mirrors the registry.
func (s *Service) SetSnapshotWriter(w SnapshotWriter) {
	s.snapshot = w
}

// List returns every role with a freshly resolved permission set.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	roles, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	if s.cfg.FetchMode != FetchPerRole {
		return roles, nil
	}

	resolved := make([]Role, len(roles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, role := range roles {
		g.Go(func() error {
			full, err := s.repo.GetRole(gctx, role.ID)
			if err != nil {
				return err
			}
			resolved[i] = full
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Get returns one role with its permissions.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	if id <= 0 {
		return Role{}, fmt.Errorf("%w: invalid role id", httpx.ErrValidation)
	}
	return s.repo.GetRole(ctx, id)
}

// Current returns the roles captured by the last reload.
func (s *Service) Current() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.current)
}

// Can reports whether the named role holds module.action in the durable
// view captured by the last reload. The first call loads the registry when
// nothing has been loaded yet. Unknown roles deny.
func (s *Service) Can(ctx context.Context, roleName, module, action string) (bool, error) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		if err := s.Reload(ctx); err != nil {
			return false, err
		}
	}
	name := CanonicalName(roleName)
	for _, role := range s.Current() {
		if role.Name == name {
			return role.Can(module, action), nil
		}
	}
	return false, nil
}

// Create adds a role with an empty permission set. Active defaults to true.
func (s *Service) Create(ctx context.Context, in CreateInput) (Role, error) {
	in.Name = CanonicalName(in.Name)
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return Role{}, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	created, err := s.repo.Create(ctx, Role{Name: in.Name, Description: in.Description, Active: active})
	if err != nil {
		return Role{}, err
	}
	s.afterMutation(ctx, "roles.create", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// Update replaces the role's fields and its complete permission set.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Role, error) {
	if id <= 0 {
		return Role{}, fmt.Errorf("%w: invalid role id", httpx.ErrValidation)
	}
	in.Name = CanonicalName(in.Name)
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return Role{}, err
	}
	ids := in.PermissionIDs
	if ids == nil {
		ids = []int64{}
	}
	updated, err := s.repo.Update(ctx, Role{
		ID:            id,
		Name:          in.Name,
		Description:   in.Description,
		Active:        in.Active,
		PermissionIDs: ids,
	})
	if err != nil {
		return Role{}, err
	}
	s.afterMutation(ctx, "roles.update", id, map[string]any{"name": updated.Name, "permissionIds": updated.PermissionIDs})
	return updated, nil
}

// Delete removes a role. System-defined roles are rejected with a conflict.
func (s *Service) Delete(ctx context.Context, id int64) error {
	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemDefined {
		return fmt.Errorf("%w: role %s is system defined and cannot be deleted", httpx.ErrConflict, role.Name)
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("role %d: %w", id, httpx.ErrNotFound)
	}
	s.afterMutation(ctx, "roles.delete", id, map[string]any{"name": role.Name})
	return nil
}

// ToggleActive flips the role's active flag.
func (s *Service) ToggleActive(ctx context.Context, id int64) (Role, error) {
	role, err := s.repo.ToggleActive(ctx, id)
	if err != nil {
		return Role{}, err
	}
	s.afterMutation(ctx, "roles.toggle", id, map[string]any{"active": role.Active})
	return role, nil
}

// Reload re-lists every role, replaces the current view and rewrites the
// snapshot. Snapshot failures are logged and counted but not returned.
func (s *Service) Reload(ctx context.Context) error {
	_, err := s.reload(ctx)
	return err
}

// Load reloads the registry and returns the fresh list. It backs the
// snapshot read-through.
func (s *Service) Load(ctx context.Context) ([]Role, error) {
	return s.reload(ctx)
}

func (s *Service) reload(ctx context.Context) ([]Role, error) {
	roles, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = slices.Clone(roles)
	s.loaded = true
	s.mu.Unlock()

	if s.snapshot != nil {
		err := s.snapshot.Replace(ctx, roles)
		s.metrics.ObserveSnapshotResync(err)
		if err != nil {
			s.logger.Warn("resync role snapshot", slog.Int("roles", len(roles)), slog.Any("error", err))
		}
	}
	return roles, nil
}

func (s *Service) afterMutation(ctx context.Context, action string, id int64, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "role", EntityID: id, Meta: meta}); err != nil {
		s.logger.Warn("audit role change", slog.String("action", action), slog.Any("error", err))
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("reload roles", slog.String("action", action), slog.Any("error", err))
	}
}
