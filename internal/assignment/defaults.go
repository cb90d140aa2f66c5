package assignment

import (
	"context"
	"fmt"
	"slices"

	"github.com/psicare/psicare/internal/permissions"
	"github.com/psicare/psicare/internal/policy"
	"github.com/psicare/psicare/internal/rolecache"
)

// Catalog lists every permission.
type Catalog interface {
	List(ctx context.Context) ([]permissions.Permission, error)
}

// SnapshotStore is the cache surface used for defaults.
type SnapshotStore interface {
	Snapshot(ctx context.Context) (rolecache.Snapshot, error)
	Mutate(ctx context.Context, fn func(*rolecache.Snapshot) error) (rolecache.Snapshot, error)
}

type predicate func(permissions.Permission) bool

var (
	psicologoModules   = moduleSet(policy.ModulePacientes, policy.ModuleSessoes, policy.ModulePagamentos, policy.ModuleRelatorios, policy.ModuleCalculadoras)
	funcionarioModules = moduleSet(policy.ModulePacientes, policy.ModuleSessoes, policy.ModulePagamentos, policy.ModuleSalas)
	funcionarioActions = []string{policy.ActionVisualizar.String(), policy.ActionCriar.String(), policy.ActionEditar.String()}
)

func moduleSet(modules ...policy.Module) []string {
	out := make([]string, len(modules))
	for i, m := range modules {
		out[i] = m.String()
	}
	return out
}

// defaultFor returns the fixed filter for a built-in role, or nil.
func defaultFor(roleName string) predicate {
	role := policy.ParseRole(roleName)
	if role.String() != roleName {
		return nil
	}
	switch role {
	case policy.RoleAdmin:
		return func(permissions.Permission) bool { return true }
	case policy.RolePsicologo:
		return func(p permissions.Permission) bool {
			return slices.Contains(psicologoModules, p.Module)
		}
	case policy.RoleFuncionario:
		return func(p permissions.Permission) bool {
			return slices.Contains(funcionarioModules, p.Module) && slices.Contains(funcionarioActions, p.Action)
		}
	}
	return nil
}

// Defaults rewrites the built-in roles in the cached snapshot.
type Defaults struct {
	catalog Catalog
	store   SnapshotStore
}

// NewDefaults builds Defaults.
func NewDefaults(catalog Catalog, store SnapshotStore) *Defaults {
	return &Defaults{catalog: catalog, store: store}
}

// ApplyDefaults assigns the default permission sets of ADMIN, PSICOLOGO and
// FUNCIONARIO in the snapshot only. Nothing is written to the repository;
// callers still submit each role to persist it.
func (d *Defaults) ApplyDefaults(ctx context.Context) (rolecache.Snapshot, error) {
	if _, err := d.store.Snapshot(ctx); err != nil {
		return rolecache.Snapshot{}, fmt.Errorf("assignment: load snapshot: %w", err)
	}
	catalog, err := d.catalog.List(ctx)
	if err != nil {
		return rolecache.Snapshot{}, fmt.Errorf("assignment: list permissions: %w", err)
	}
	return d.store.Mutate(ctx, func(snap *rolecache.Snapshot) error {
		for i := range snap.Roles {
			keep := defaultFor(snap.Roles[i].Name)
			if keep == nil {
				continue
			}
			perms := make([]permissions.Permission, 0, len(catalog))
			ids := make([]int64, 0, len(catalog))
			for _, p := range catalog {
				if keep(p) {
					perms = append(perms, p)
					ids = append(ids, p.ID)
				}
			}
			snap.Roles[i].Permissions = perms
			snap.Roles[i].PermissionIDs = ids
		}
		return nil
	})
}
