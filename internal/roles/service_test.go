package roles

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glueful/accessd/internal/rbac"
	"github.com/glueful/accessd/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	roles    map[uuid.UUID]*Role
	bySlug   map[string]*Role
	grants   map[uuid.UUID][]PermissionGrant
	permIDs  map[string]uuid.UUID
	replaced int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		roles:   make(map[uuid.UUID]*Role),
		bySlug:  make(map[string]*Role),
		grants:  make(map[uuid.UUID][]PermissionGrant),
		permIDs: make(map[string]uuid.UUID),
	}
}

func (m *mockRepository) addRole(slug string, parent *Role) *Role {
	role := &Role{ID: uuid.New(), Slug: slug, Name: slug, Status: rbac.RoleStatusActive}
	if parent != nil {
		id := parent.ID
		role.ParentID = &id
	}
	m.roles[role.ID] = role
	m.bySlug[slug] = role
	return role
}

func (m *mockRepository) addPermission(slug string) uuid.UUID {
	id := uuid.New()
	m.permIDs[slug] = id
	return id
}

func (m *mockRepository) List(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		if filters.Status != "" && role.Status != filters.Status {
			continue
		}
		out = append(out, *role)
	}
	return out, nil
}

func (m *mockRepository) GetBySlug(ctx context.Context, slug string) (*Role, error) {
	if role, ok := m.bySlug[slug]; ok {
		return role, nil
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	if role, ok := m.roles[id]; ok {
		return role, nil
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) Children(ctx context.Context, id uuid.UUID) ([]Role, error) {
	var children []Role
	for _, role := range m.roles {
		if role.ParentID != nil && *role.ParentID == id {
			children = append(children, *role)
		}
	}
	return children, nil
}

func (m *mockRepository) Create(ctx context.Context, role Role) (*Role, error) {
	if _, ok := m.bySlug[role.Slug]; ok {
		return nil, shared.ErrConflict
	}
	role.ID = uuid.New()
	m.roles[role.ID] = &role
	m.bySlug[role.Slug] = &role
	return &role, nil
}

func (m *mockRepository) Update(ctx context.Context, id uuid.UUID, input UpdateRoleInput) (*Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	role.Name = input.Name
	role.Description = input.Description
	role.Status = input.Status
	return role, nil
}

func (m *mockRepository) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	role, ok := m.roles[id]
	if !ok {
		return shared.ErrNotFound
	}
	role.ParentID = parentID
	return nil
}

func (m *mockRepository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	role, ok := m.roles[id]
	if !ok {
		return false, nil
	}
	delete(m.roles, id)
	delete(m.bySlug, role.Slug)
	return true, nil
}

func (m *mockRepository) ReplacePermissions(ctx context.Context, roleID uuid.UUID, grants []PermissionGrant) error {
	m.grants[roleID] = grants
	m.replaced++
	return nil
}

func (m *mockRepository) PermissionIDBySlug(ctx context.Context, slug string) (uuid.UUID, error) {
	if id, ok := m.permIDs[slug]; ok {
		return id, nil
	}
	return uuid.Nil, rbac.ErrNotFound
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateAllCache(ctx context.Context) { c.calls++ }

// ============================================================================
// TESTS
// ============================================================================

func TestCreateRole(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, repo, 0)

	role, err := service.Create(context.Background(), CreateRoleInput{Slug: "editor", Name: "Editor"})
	require.NoError(t, err)
	assert.Equal(t, "editor", role.Slug)
	assert.Equal(t, rbac.RoleStatusActive, role.Status)

	_, err = service.Create(context.Background(), CreateRoleInput{Slug: "editor", Name: "Editor Again"})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateRoleInvalidSlug(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, repo, 0)

	for _, slug := range []string{"", "Editor", "ed itor", "1editor", "editor!"} {
		_, err := service.Create(context.Background(), CreateRoleInput{Slug: slug})
		assert.ErrorIs(t, err, shared.ErrValidation, "slug %q must be rejected", slug)
	}
}

func TestCreateRoleDepthLimit(t *testing.T) {
	repo := newMockRepository()
	a := repo.addRole("a", nil)
	b := repo.addRole("b", a)
	repo.addRole("c", b)
	service := NewService(repo, repo, 3)

	_, err := service.Create(context.Background(), CreateRoleInput{Slug: "d", ParentSlug: "c"})
	assert.ErrorIs(t, err, rbac.ErrMaxDepthExceeded)
}

func TestSetParentRejectsSelf(t *testing.T) {
	repo := newMockRepository()
	repo.addRole("editor", nil)
	service := NewService(repo, repo, 0)

	err := service.SetParent(context.Background(), "editor", "editor")
	assert.ErrorIs(t, err, rbac.ErrHierarchyCycle)
}

func TestSetParentRejectsDescendant(t *testing.T) {
	repo := newMockRepository()
	parent := repo.addRole("admin", nil)
	child := repo.addRole("editor", parent)
	repo.addRole("junior", child)
	service := NewService(repo, repo, 0)

	// admin -> editor -> junior; making junior the parent of admin closes a loop.
	err := service.SetParent(context.Background(), "admin", "junior")
	assert.ErrorIs(t, err, rbac.ErrHierarchyCycle)
}

func TestSetParentDepthLimit(t *testing.T) {
	repo := newMockRepository()
	a := repo.addRole("a", nil)
	b := repo.addRole("b", a)
	repo.addRole("c", b)
	orphan := repo.addRole("orphan", nil)
	repo.addRole("leaf", orphan)
	service := NewService(repo, repo, 4)

	// Chain a<-b<-c is depth 2; hanging orphan (with its own child) under c
	// would make the longest chain depth 4, at the limit.
	err := service.SetParent(context.Background(), "orphan", "c")
	assert.ErrorIs(t, err, rbac.ErrMaxDepthExceeded)
}

func TestSetParentReparents(t *testing.T) {
	repo := newMockRepository()
	repo.addRole("admin", nil)
	repo.addRole("editor", nil)
	service := NewService(repo, repo, 0)

	require.NoError(t, service.SetParent(context.Background(), "editor", "admin"))
	role, err := repo.GetBySlug(context.Background(), "editor")
	require.NoError(t, err)
	require.NotNil(t, role.ParentID)
	assert.Equal(t, repo.bySlug["admin"].ID, *role.ParentID)

	// Clearing the parent detaches the role.
	require.NoError(t, service.SetParent(context.Background(), "editor", ""))
	role, err = repo.GetBySlug(context.Background(), "editor")
	require.NoError(t, err)
	assert.Nil(t, role.ParentID)
}

func TestDeleteSystemRoleProtected(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole("superuser", nil)
	role.IsSystem = true
	service := NewService(repo, repo, 0)

	err := service.Delete(context.Background(), "superuser")
	assert.ErrorIs(t, err, rbac.ErrSystemProtected)
}

func TestDeleteInvalidates(t *testing.T) {
	repo := newMockRepository()
	repo.addRole("editor", nil)
	invalidator := &countingInvalidator{}
	service := NewService(repo, repo, 0).WithCacheInvalidator(invalidator)

	require.NoError(t, service.Delete(context.Background(), "editor"))
	assert.Equal(t, 1, invalidator.calls)
}

func TestSetPermissions(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole("editor", nil)
	editID := repo.addPermission("posts.edit")
	invalidator := &countingInvalidator{}
	service := NewService(repo, repo, 0).WithCacheInvalidator(invalidator)

	err := service.SetPermissions(context.Background(), "editor", []SlugGrant{
		{Permission: "posts.edit", Resource: "posts"},
	})
	require.NoError(t, err)
	require.Len(t, repo.grants[role.ID], 1)
	assert.Equal(t, editID, repo.grants[role.ID][0].PermissionID)
	assert.Equal(t, 1, invalidator.calls)
}

func TestSetPermissionsUnknownSlug(t *testing.T) {
	repo := newMockRepository()
	repo.addRole("editor", nil)
	service := NewService(repo, repo, 0)

	err := service.SetPermissions(context.Background(), "editor", []SlugGrant{{Permission: "ghost.slug"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	assert.Zero(t, repo.replaced, "nothing may be written when resolution fails")
}

func TestUpdateRoleStatusValidation(t *testing.T) {
	repo := newMockRepository()
	repo.addRole("editor", nil)
	service := NewService(repo, repo, 0)

	_, err := service.Update(context.Background(), "editor", UpdateRoleInput{Status: "frozen"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	role, err := service.Update(context.Background(), "editor", UpdateRoleInput{Status: rbac.RoleStatusInactive})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleStatusInactive, role.Status)
}
