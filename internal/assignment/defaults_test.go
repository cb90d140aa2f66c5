package assignment

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psicare/psicare/internal/permissions"
	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/policy"
	"github.com/psicare/psicare/internal/rbac"
	"github.com/psicare/psicare/internal/rolecache"
	"github.com/psicare/psicare/internal/roles"
)

type staticCatalog []permissions.Permission

func (c staticCatalog) List(context.Context) ([]permissions.Permission, error) {
	return c, nil
}

func fullCatalog() staticCatalog {
	var out staticCatalog
	id := int64(0)
	for _, module := range []string{"pacientes", "sessoes", "pagamentos", "salas", "relatorios", "calculadoras", "usuarios", "perfis", "permissoes"} {
		for _, action := range []string{"criar", "editar", "deletar", "visualizar"} {
			id++
			out = append(out, permissions.Permission{ID: id, Name: permissions.Key(module, action), Module: module, Action: action, Active: true})
		}
	}
	return out
}

type frozenRepo struct {
	roles  []roles.Role
	writes int
}

func (r *frozenRepo) List(context.Context) ([]roles.Role, error) { return r.roles, nil }

func (r *frozenRepo) GetRole(_ context.Context, id int64) (roles.Role, error) {
	for _, role := range r.roles {
		if role.ID == id {
			return role, nil
		}
	}
	return roles.Role{}, httpx.ErrNotFound
}

func (r *frozenRepo) Create(context.Context, roles.Role) (roles.Role, error) {
	r.writes++
	return roles.Role{}, nil
}

func (r *frozenRepo) Update(context.Context, roles.Role) (roles.Role, error) {
	r.writes++
	return roles.Role{}, nil
}

func (r *frozenRepo) ToggleActive(context.Context, int64) (roles.Role, error) {
	r.writes++
	return roles.Role{}, nil
}

func (r *frozenRepo) Delete(context.Context, int64) (bool, error) {
	r.writes++
	return false, nil
}

func newSnapshotStore(t *testing.T) *rolecache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rolecache.NewStore(client, nil)
}

func modulesOf(role roles.Role) map[string][]string {
	out := map[string][]string{}
	for _, p := range role.Permissions {
		out[p.Module] = append(out[p.Module], p.Action)
	}
	return out
}

func TestApplyDefaultsRewritesSnapshotOnly(t *testing.T) {
	store := newSnapshotStore(t)
	ctx := context.Background()
	repo := &frozenRepo{roles: []roles.Role{
		{ID: 1, Name: "ADMIN", Active: true, PermissionIDs: []int64{}},
		{ID: 2, Name: "FUNCIONARIO", Active: true, PermissionIDs: []int64{}},
		{ID: 3, Name: "PSICOLOGO", Active: true, PermissionIDs: []int64{}},
		{ID: 4, Name: "SUPERVISOR", Active: true, PermissionIDs: []int64{7}},
	}}
	registry := roles.NewService(repo, nil, nil, nil, roles.ServiceConfig{})
	registry.SetSnapshotWriter(store)
	store.SetLoader(registry.Load)
	catalog := fullCatalog()

	snap, err := NewDefaults(catalog, store).ApplyDefaults(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Version)
	assert.Zero(t, repo.writes)

	admin, err := registry.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, admin.PermissionIDs)

	byName := map[string]roles.Role{}
	for _, r := range snap.Roles {
		byName[r.Name] = r
	}
	assert.Len(t, byName["ADMIN"].PermissionIDs, len(catalog))

	psicologo := modulesOf(byName["PSICOLOGO"])
	assert.ElementsMatch(t, []string{"pacientes", "sessoes", "pagamentos", "relatorios", "calculadoras"}, keys(psicologo))
	assert.Len(t, psicologo["pacientes"], 4)

	funcionario := modulesOf(byName["FUNCIONARIO"])
	assert.ElementsMatch(t, []string{"pacientes", "sessoes", "pagamentos", "salas"}, keys(funcionario))
	for module, actions := range funcionario {
		assert.ElementsMatch(t, []string{"criar", "editar", "visualizar"}, actions, module)
	}

	assert.Equal(t, []int64{7}, byName["SUPERVISOR"].PermissionIDs)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Version, loaded.Version)
}

func TestApplyDefaultsLeavesGuardDecisionsUnchanged(t *testing.T) {
	store := newSnapshotStore(t)
	ctx := context.Background()
	repo := &frozenRepo{roles: []roles.Role{
		{ID: 3, Name: "PSICOLOGO", Active: true, PermissionIDs: []int64{}},
	}}
	registry := roles.NewService(repo, nil, nil, nil, roles.ServiceConfig{})
	registry.SetSnapshotWriter(store)
	store.SetLoader(registry.Load)
	require.NoError(t, registry.Reload(ctx))

	guards := rbac.Middleware{Grants: registry}
	psicologo := rbac.Principal{UserID: "8", Role: policy.RolePsicologo, RoleName: "PSICOLOGO"}
	checks := [][2]string{{"pagamentos", "deletar"}, {"relatorios", "deletar"}, {"calculadoras", "criar"}}
	before := map[[2]string]bool{}
	for _, c := range checks {
		allowed, err := guards.Allowed(ctx, psicologo, c[0], c[1])
		require.NoError(t, err)
		assert.False(t, allowed, "%s.%s", c[0], c[1])
		before[c] = allowed
	}

	snap, err := NewDefaults(fullCatalog(), store).ApplyDefaults(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Roles, 1)
	require.True(t, snap.Roles[0].Can("pagamentos", "deletar"))

	for _, c := range checks {
		allowed, err := guards.Allowed(ctx, psicologo, c[0], c[1])
		require.NoError(t, err)
		assert.Equal(t, before[c], allowed, "%s.%s", c[0], c[1])
	}
	assert.Zero(t, repo.writes)
	durable, err := registry.Get(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, durable.PermissionIDs)
}

func TestApplyDefaultsUsesReadThrough(t *testing.T) {
	store := newSnapshotStore(t)
	ctx := context.Background()
	store.SetLoader(func(ctx context.Context) ([]roles.Role, error) {
		list := []roles.Role{{ID: 1, Name: "ADMIN", Active: true}}
		return list, store.Replace(ctx, list)
	})

	snap, err := NewDefaults(fullCatalog(), store).ApplyDefaults(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Roles, 1)
	assert.True(t, snap.Roles[0].Can("permissoes", "deletar"))
}

func TestApplyDefaultsWithoutSnapshot(t *testing.T) {
	store := newSnapshotStore(t)
	_, err := NewDefaults(fullCatalog(), store).ApplyDefaults(context.Background())
	assert.ErrorIs(t, err, rolecache.ErrSnapshotMissing)
}

func keys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
