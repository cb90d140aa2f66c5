package permissions

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psicare/psicare/internal/platform/httpx"
)

type memoryRepo struct {
	mu          sync.Mutex
	nextID      int64
	items       map[int64]Permission
	assignments map[int64]int
	failList    error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[int64]Permission{}, assignments: map[int64]int{}}
}

func (m *memoryRepo) List(context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	out := make([]Permission, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return Permission{}, httpx.ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) distinct(pick func(Permission) string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.items {
		if v := pick(p); !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memoryRepo) DistinctModules(context.Context) ([]string, error) {
	return m.distinct(func(p Permission) string { return p.Module }), nil
}

func (m *memoryRepo) DistinctActions(context.Context) ([]string, error) {
	return m.distinct(func(p Permission) string { return p.Action }), nil
}

func (m *memoryRepo) Create(_ context.Context, p Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Name == p.Name {
			return Permission{}, httpx.ErrConflict
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.items[p.ID] = p
	return p, nil
}

func (m *memoryRepo) Update(_ context.Context, p Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[p.ID]; !ok {
		return Permission{}, httpx.ErrNotFound
	}
	m.items[p.ID] = p
	return p, nil
}

func (m *memoryRepo) ToggleActive(_ context.Context, id int64) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return Permission{}, httpx.ErrNotFound
	}
	p.Active = !p.Active
	m.items[id] = p
	return p, nil
}

func (m *memoryRepo) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	delete(m.assignments, id)
	return true, nil
}

func (m *memoryRepo) CountAssignments(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignments[id], nil
}

type countingReloader struct{ calls int }

func (r *countingReloader) Reload(context.Context) error {
	r.calls++
	return nil
}

func TestCreateThenListReturnsPermission(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	created, err := svc.Create(ctx, Input{Module: "x", Action: "y"})
	require.NoError(t, err)
	assert.Equal(t, "x.y", created.Name)
	assert.True(t, created.Active)

	perms, err := svc.List(ctx)
	require.NoError(t, err)
	matches := 0
	for _, p := range perms {
		if p.Module == "x" && p.Action == "y" {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
}

func TestCreateRequiresModuleAndAction(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	for _, in := range []Input{{Module: "pacientes"}, {Action: "criar"}, {Module: "  ", Action: "criar"}} {
		_, err := svc.Create(context.Background(), in)
		require.Error(t, err)
		assert.True(t, errors.Is(err, httpx.ErrValidation), "input %+v", in)
	}
}

func TestCreateRejectsMismatchedName(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	_, err := svc.Create(context.Background(), Input{Module: "pacientes", Action: "criar", Name: "pacientes.ler"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	ctx := context.Background()
	_, err := svc.Create(ctx, Input{Module: "salas", Action: "criar"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Input{Module: "SALAS", Action: "Criar"})
	assert.ErrorIs(t, err, httpx.ErrConflict)
}

func TestFacetsRefreshAfterChanges(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	modules, err := svc.Modules(ctx)
	require.NoError(t, err)
	assert.Empty(t, modules)

	created, err := svc.Create(ctx, Input{Module: "relatorios", Action: "visualizar"})
	require.NoError(t, err)

	modules, err = svc.Modules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"relatorios"}, modules)
	actions, err := svc.Actions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"visualizar"}, actions)

	require.NoError(t, svc.Delete(ctx, created.ID))
	modules, err = svc.Modules(ctx)
	require.NoError(t, err)
	assert.Empty(t, modules)
}

func TestUpdateKeepsActiveWhenOmitted(t *testing.T) {
	repo := newMemoryRepo()
	reloader := &countingReloader{}
	svc := NewService(repo, nil, nil, ServiceConfig{})
	svc.SetRoleReloader(reloader)
	ctx := context.Background()

	inactive := false
	created, err := svc.Create(ctx, Input{Module: "salas", Action: "editar", Active: &inactive})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, Input{Module: "salas", Action: "editar", Description: "Editar salas"})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, "Editar salas", updated.Description)
	assert.Equal(t, 1, reloader.calls)
}

func TestDeleteCascadesByDefault(t *testing.T) {
	repo := newMemoryRepo()
	reloader := &countingReloader{}
	svc := NewService(repo, nil, nil, ServiceConfig{})
	svc.SetRoleReloader(reloader)
	ctx := context.Background()

	created, err := svc.Create(ctx, Input{Module: "salas", Action: "deletar"})
	require.NoError(t, err)
	repo.assignments[created.ID] = 2

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
	assert.Equal(t, 1, reloader.calls)
}

func TestDeleteGuardRejectsAssignedPermission(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{DeleteGuard: true})
	ctx := context.Background()

	created, err := svc.Create(ctx, Input{Module: "salas", Action: "deletar"})
	require.NoError(t, err)
	repo.assignments[created.ID] = 1

	err = svc.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, httpx.ErrConflict)
	_, err = svc.Get(ctx, created.ID)
	assert.NoError(t, err)
}

func TestDeleteUnknownIsNotFound(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	assert.ErrorIs(t, svc.Delete(context.Background(), 99), httpx.ErrNotFound)
}

func TestListNeverReturnsNil(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	perms, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, perms)
}
