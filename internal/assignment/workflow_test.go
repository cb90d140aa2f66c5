package assignment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psicare/psicare/internal/permissions"
	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/roles"
)

type stubUpdater struct {
	err   error
	calls []roles.UpdateInput
}

func (s *stubUpdater) Update(_ context.Context, id int64, in roles.UpdateInput) (roles.Role, error) {
	s.calls = append(s.calls, in)
	if s.err != nil {
		return roles.Role{}, s.err
	}
	return roles.Role{ID: id, Name: in.Name, Active: in.Active, PermissionIDs: in.PermissionIDs}, nil
}

func editing(t *testing.T, ids ...int64) *Workflow {
	t.Helper()
	wf := &Workflow{}
	require.NoError(t, wf.Begin(roles.Role{ID: 4, Name: "SUPERVISOR", Description: "Supervisao", Active: true, PermissionIDs: ids}))
	return wf
}

func TestBeginCopiesPermissionIDs(t *testing.T) {
	ids := []int64{3, 1, 2}
	wf := editing(t, ids...)
	assert.Equal(t, StateEditing, wf.State)
	assert.Equal(t, []int64{1, 2, 3}, wf.Working)

	ids[0] = 99
	assert.Equal(t, []int64{1, 2, 3}, wf.Working)
}

func TestToggleAddsAndRemoves(t *testing.T) {
	wf := editing(t, 1, 3)
	require.NoError(t, wf.Toggle(2))
	assert.Equal(t, []int64{1, 2, 3}, wf.Working)
	require.NoError(t, wf.Toggle(1))
	assert.Equal(t, []int64{2, 3}, wf.Working)
	assert.True(t, wf.Selected(3))
	assert.False(t, wf.Selected(1))
	assert.ErrorIs(t, wf.Toggle(0), httpx.ErrValidation)
}

func TestOperationsOutsideEditingAreRejected(t *testing.T) {
	wf := &Workflow{}
	assert.ErrorIs(t, wf.Toggle(1), ErrInvalidState)
	assert.ErrorIs(t, wf.Replace([]int64{1}), ErrInvalidState)
	assert.ErrorIs(t, wf.Cancel(), ErrInvalidState)
	_, err := wf.Submit(context.Background(), &stubUpdater{})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	wf = editing(t)
	assert.ErrorIs(t, wf.Begin(roles.Role{ID: 5}), ErrInvalidState)
}

func TestSubmitSendsSortedFullSet(t *testing.T) {
	wf := editing(t, 5)
	require.NoError(t, wf.Replace([]int64{9, 2, 2, 7}))
	updater := &stubUpdater{}

	role, err := wf.Submit(context.Background(), updater)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, wf.State)
	assert.Empty(t, wf.Working)
	assert.Equal(t, []int64{2, 7, 9}, role.PermissionIDs)

	require.Len(t, updater.calls, 1)
	assert.Equal(t, roles.UpdateInput{Name: "SUPERVISOR", Description: "Supervisao", Active: true, PermissionIDs: []int64{2, 7, 9}}, updater.calls[0])
}

func TestSubmitEmptySetSendsEmptyArray(t *testing.T) {
	wf := editing(t, 1, 2)
	require.NoError(t, wf.Replace(nil))
	updater := &stubUpdater{}
	_, err := wf.Submit(context.Background(), updater)
	require.NoError(t, err)
	assert.NotNil(t, updater.calls[0].PermissionIDs)
	assert.Empty(t, updater.calls[0].PermissionIDs)
}

func TestFailedSubmitKeepsWorkingSet(t *testing.T) {
	wf := editing(t, 1)
	require.NoError(t, wf.Toggle(4))
	updater := &stubUpdater{err: errors.New("database unavailable")}

	_, err := wf.Submit(context.Background(), updater)
	require.Error(t, err)
	assert.Equal(t, StateEditing, wf.State)
	assert.Equal(t, []int64{1, 4}, wf.Working)
	assert.Equal(t, "database unavailable", wf.Error)

	updater.err = nil
	_, err = wf.Submit(context.Background(), updater)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, wf.State)
	assert.Len(t, updater.calls, 2)
}

func TestCancelReturnsToIdle(t *testing.T) {
	wf := editing(t, 1)
	require.NoError(t, wf.Cancel())
	assert.Equal(t, StateIdle, wf.State)
	assert.Zero(t, wf.RoleID)
}

// registryRepo is a writable map-backed roles.Repository.
type registryRepo struct {
	mu      sync.Mutex
	roles   map[int64]roles.Role
	catalog map[int64]permissions.Permission
}

func newRegistryRepo(seed ...roles.Role) *registryRepo {
	repo := &registryRepo{roles: map[int64]roles.Role{}, catalog: map[int64]permissions.Permission{}}
	for _, p := range fullCatalog() {
		repo.catalog[p.ID] = p
	}
	for _, role := range seed {
		repo.roles[role.ID] = role
	}
	return repo
}

func (r *registryRepo) resolve(role roles.Role) roles.Role {
	role.PermissionIDs = slices.Clone(role.PermissionIDs)
	role.Permissions = nil
	for _, id := range role.PermissionIDs {
		role.Permissions = append(role.Permissions, r.catalog[id])
	}
	return role
}

func (r *registryRepo) List(context.Context) ([]roles.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]roles.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, r.resolve(role))
	}
	slices.SortFunc(out, func(a, b roles.Role) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r *registryRepo) GetRole(_ context.Context, id int64) (roles.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return roles.Role{}, fmt.Errorf("role %d: %w", id, httpx.ErrNotFound)
	}
	return r.resolve(role), nil
}

func (r *registryRepo) Create(context.Context, roles.Role) (roles.Role, error) {
	return roles.Role{}, errors.New("not supported")
}

func (r *registryRepo) Update(_ context.Context, role roles.Role) (roles.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.roles[role.ID]
	if !ok {
		return roles.Role{}, httpx.ErrNotFound
	}
	for _, id := range role.PermissionIDs {
		if _, ok := r.catalog[id]; !ok {
			return roles.Role{}, fmt.Errorf("%w: unknown permission id %d", httpx.ErrValidation, id)
		}
	}
	role.IsSystemDefined = current.IsSystemDefined
	r.roles[role.ID] = role
	return r.resolve(role), nil
}

func (r *registryRepo) ToggleActive(context.Context, int64) (roles.Role, error) {
	return roles.Role{}, errors.New("not supported")
}

func (r *registryRepo) Delete(context.Context, int64) (bool, error) {
	return false, errors.New("not supported")
}

func TestSupervisorSubmitReplacesGrantsEndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := newRegistryRepo(roles.Role{ID: 4, Name: "SUPERVISOR", Description: "Supervisao", Active: true, PermissionIDs: []int64{5, 6}})
	registry := roles.NewService(repo, nil, nil, nil, roles.ServiceConfig{})
	require.NoError(t, registry.Reload(ctx))

	supervisor, err := registry.Get(ctx, 4)
	require.NoError(t, err)
	wf := &Workflow{}
	require.NoError(t, wf.Begin(supervisor))
	require.NoError(t, wf.Replace([]int64{1, 2, 3}))

	saved, err := wf.Submit(ctx, registry)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, wf.State)
	assert.Equal(t, []int64{1, 2, 3}, saved.PermissionIDs)

	require.NoError(t, registry.Reload(ctx))
	current := registry.Current()
	require.Len(t, current, 1)
	assert.Equal(t, "SUPERVISOR", current[0].Name)
	assert.Equal(t, []int64{1, 2, 3}, current[0].PermissionIDs)
	assert.True(t, current[0].Can("pacientes", "criar"))
	assert.True(t, current[0].Can("pacientes", "deletar"))
	assert.False(t, current[0].Can("pacientes", "visualizar"))
	assert.False(t, current[0].Can("sessoes", "criar"))
}
