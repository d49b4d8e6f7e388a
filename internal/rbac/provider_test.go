package rbac

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// MOCK STORE
// ============================================================================

// A single store backs all three repository contracts, mirroring PGRepository.
var (
	_ PermissionRepository = (*mockStore)(nil)
	_ RoleRepository       = (*mockStore)(nil)
	_ AssignmentRepository = (*mockStore)(nil)
)

type mockStore struct {
	perms     map[string]*Permission
	permsByID map[uuid.UUID]*Permission
	roles     map[string]*Role
	rolesByID map[uuid.UUID]*Role

	userPerms map[uuid.UUID][]UserPermission
	userRoles map[uuid.UUID][]UserRole
	rolePerms map[uuid.UUID][]RolePermission

	// Error injection
	listUserPermsErr error
	listUserRolesErr error
	listRolePermsErr error
	pingErr          error
	wrapNotFound     bool
}

func newMockStore() *mockStore {
	return &mockStore{
		perms:     make(map[string]*Permission),
		permsByID: make(map[uuid.UUID]*Permission),
		roles:     make(map[string]*Role),
		rolesByID: make(map[uuid.UUID]*Role),
		userPerms: make(map[uuid.UUID][]UserPermission),
		userRoles: make(map[uuid.UUID][]UserRole),
		rolePerms: make(map[uuid.UUID][]RolePermission),
	}
}

func (m *mockStore) addPermission(slug string) *Permission {
	perm := &Permission{ID: uuid.New(), Slug: slug, Name: "", CreatedAt: time.Now()}
	m.perms[slug] = perm
	m.permsByID[perm.ID] = perm
	return perm
}

func (m *mockStore) addRole(slug string, parent *Role) *Role {
	role := &Role{ID: uuid.New(), Slug: slug, Status: RoleStatusActive, CreatedAt: time.Now()}
	if parent != nil {
		id := parent.ID
		role.ParentID = &id
	}
	m.roles[slug] = role
	m.rolesByID[role.ID] = role
	return role
}

func (m *mockStore) grantToRole(role *Role, slug, resource string) {
	perm := m.perms[slug]
	m.rolePerms[role.ID] = append(m.rolePerms[role.ID], RolePermission{
		RoleID:       role.ID,
		PermissionID: perm.ID,
		Slug:         slug,
		Resource:     resource,
	})
}

func (m *mockStore) GetBySlug(ctx context.Context, slug string) (*Permission, error) {
	if perm, ok := m.perms[slug]; ok {
		return perm, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetByID(ctx context.Context, id uuid.UUID) (*Permission, error) {
	if perm, ok := m.permsByID[id]; ok {
		return perm, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) ListActive(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(m.perms))
	for _, perm := range m.perms {
		out = append(out, *perm)
	}
	return out, nil
}

func (m *mockStore) ResourceTypes(ctx context.Context) (map[string]string, error) {
	return map[string]string{"posts": "Posts"}, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) GetRoleBySlug(ctx context.Context, slug string) (*Role, error) {
	if role, ok := m.roles[slug]; ok {
		return role, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetRoleByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	if role, ok := m.rolesByID[id]; ok {
		return role, nil
	}
	if m.wrapNotFound {
		return nil, fmt.Errorf("load role %s: %w", id, ErrNotFound)
	}
	return nil, ErrNotFound
}

func (m *mockStore) ListUserPermissions(ctx context.Context, userID uuid.UUID) ([]UserPermission, error) {
	if m.listUserPermsErr != nil {
		return nil, m.listUserPermsErr
	}
	return m.userPerms[userID], nil
}

func (m *mockStore) UpsertUserPermission(ctx context.Context, grant UserPermission) error {
	if grant.Slug == "" {
		if perm, ok := m.permsByID[grant.PermissionID]; ok {
			grant.Slug = perm.Slug
		}
	}
	existing := m.userPerms[grant.UserID]
	for i, row := range existing {
		if row.PermissionID == grant.PermissionID && row.Resource == grant.Resource {
			existing[i] = grant
			return nil
		}
	}
	m.userPerms[grant.UserID] = append(existing, grant)
	return nil
}

func (m *mockStore) DeleteUserPermission(ctx context.Context, userID, permissionID uuid.UUID, resource string) (bool, error) {
	existing := m.userPerms[userID]
	for i, row := range existing {
		if row.PermissionID == permissionID && row.Resource == resource {
			m.userPerms[userID] = append(existing[:i], existing[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]UserRole, error) {
	if m.listUserRolesErr != nil {
		return nil, m.listUserRolesErr
	}
	return m.userRoles[userID], nil
}

func (m *mockStore) UpsertUserRole(ctx context.Context, assignment UserRole) error {
	m.userRoles[assignment.UserID] = append(m.userRoles[assignment.UserID], assignment)
	return nil
}

func (m *mockStore) DeleteUserRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	existing := m.userRoles[userID]
	kept := existing[:0]
	deleted := false
	for _, row := range existing {
		if row.RoleID == roleID {
			deleted = true
			continue
		}
		kept = append(kept, row)
	}
	m.userRoles[userID] = kept
	return deleted, nil
}

func (m *mockStore) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]RolePermission, error) {
	if m.listRolePermsErr != nil {
		return nil, m.listRolePermsErr
	}
	return m.rolePerms[roleID], nil
}

func (m *mockStore) DeleteExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	affected := make(map[uuid.UUID]struct{})
	for userID, grants := range m.userPerms {
		kept := grants[:0]
		for _, grant := range grants {
			if grant.Expired(now) {
				affected[userID] = struct{}{}
				continue
			}
			kept = append(kept, grant)
		}
		m.userPerms[userID] = kept
	}
	for userID, assignments := range m.userRoles {
		kept := assignments[:0]
		for _, assignment := range assignments {
			if assignment.Expired(now) {
				affected[userID] = struct{}{}
				continue
			}
			kept = append(kept, assignment)
		}
		m.userRoles[userID] = kept
	}
	users := make([]uuid.UUID, 0, len(affected))
	for userID := range affected {
		users = append(users, userID)
	}
	return users, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func newTestProvider(t *testing.T, store *mockStore, cfg Config) *Provider {
	t.Helper()
	return NewProvider(store, store, store, nil, nil, cfg)
}

func newCachedProvider(t *testing.T, store *mockStore, cfg Config) (*Provider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg.CacheEnabled = true
	return NewProvider(store, store, store, NewRedisCache(client), nil, cfg), mr
}

func future(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

// ============================================================================
// DIRECT GRANTS
// ============================================================================

func TestCanDirectGrant(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts"},
	}

	provider := newTestProvider(t, store, Config{})

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = provider.Can(context.Background(), userID, "posts.delete", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCanResourceExactness(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts"},
	}

	provider := newTestProvider(t, store, Config{})

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "pages", nil)
	require.NoError(t, err)
	assert.False(t, allowed, "grant on posts must not cover pages")
}

func TestCanWildcardResource(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: ResourceWildcard},
	}

	provider := newTestProvider(t, store, Config{})

	for _, resource := range []string{"posts", "pages", ""} {
		allowed, err := provider.Can(context.Background(), userID, "posts.edit", resource, nil)
		require.NoError(t, err)
		assert.True(t, allowed, "wildcard grant should cover %q", resource)
	}
}

func TestCanExpiredGrantDenied(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	expired := time.Now().Add(-time.Minute)
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts", ExpiresAt: &expired},
	}

	provider := newTestProvider(t, store, Config{})

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCanConstraints(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{
			UserID:       userID,
			PermissionID: perm.ID,
			Slug:         "posts.edit",
			Resource:     "posts",
			Constraints:  map[string]any{"department": "news", "region": []any{"eu", "us"}},
		},
	}

	provider := newTestProvider(t, store, Config{})

	cases := []struct {
		name    string
		context map[string]string
		want    bool
	}{
		{"all satisfied", map[string]string{"department": "news", "region": "eu"}, true},
		{"array membership", map[string]string{"department": "news", "region": "us"}, true},
		{"scalar mismatch", map[string]string{"department": "sports", "region": "eu"}, false},
		{"array miss", map[string]string{"department": "news", "region": "apac"}, false},
		{"missing key denies", map[string]string{"department": "news"}, false},
		{"empty context denies", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", tc.context)
			require.NoError(t, err)
			assert.Equal(t, tc.want, allowed)
		})
	}
}

func TestCanStoreErrorPropagates(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.edit")
	store.listUserPermsErr = errors.New("connection refused")

	provider := newTestProvider(t, store, Config{})

	_, err := provider.Can(context.Background(), uuid.New(), "posts.edit", "posts", nil)
	require.Error(t, err, "store failure must surface, never read as deny")
}

// ============================================================================
// ROLES AND HIERARCHY
// ============================================================================

func TestCanViaRole(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.view")
	role := store.addRole("viewer", nil)
	store.grantToRole(role, "posts.view", ResourceWildcard)
	userID := uuid.New()
	store.userRoles[userID] = []UserRole{{UserID: userID, RoleID: role.ID}}

	provider := newTestProvider(t, store, Config{})

	allowed, err := provider.Can(context.Background(), userID, "posts.view", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCanInheritedFromAncestor(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.publish")
	parent := store.addRole("senior_editor", nil)
	child := store.addRole("editor", parent)
	store.grantToRole(parent, "posts.publish", ResourceWildcard)
	userID := uuid.New()
	store.userRoles[userID] = []UserRole{{UserID: userID, RoleID: child.ID}}

	withInheritance := newTestProvider(t, store, Config{EnableHierarchy: true, EnableInheritance: true})
	allowed, err := withInheritance.Can(context.Background(), userID, "posts.publish", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed, "child role should inherit parent grants")

	withoutInheritance := newTestProvider(t, store, Config{EnableHierarchy: true, EnableInheritance: false})
	allowed, err = withoutInheritance.Can(context.Background(), userID, "posts.publish", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed, "inheritance off must stop at the assigned role")
}

func TestCanInactiveRoleIgnored(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.view")
	role := store.addRole("viewer", nil)
	role.Status = RoleStatusInactive
	store.grantToRole(role, "posts.view", ResourceWildcard)
	userID := uuid.New()
	store.userRoles[userID] = []UserRole{{UserID: userID, RoleID: role.ID}}

	provider := newTestProvider(t, store, Config{})

	allowed, err := provider.Can(context.Background(), userID, "posts.view", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestGetRoleHierarchy(t *testing.T) {
	store := newMockStore()
	grandparent := store.addRole("admin", nil)
	parent := store.addRole("senior_editor", grandparent)
	child := store.addRole("editor", parent)

	provider := newTestProvider(t, store, Config{EnableHierarchy: true, EnableInheritance: true})

	chain, err := provider.GetRoleHierarchy(context.Background(), child.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "senior_editor", chain[0].Slug)
	assert.Equal(t, "admin", chain[1].Slug)
}

func TestGetRoleHierarchyCycle(t *testing.T) {
	store := newMockStore()
	a := store.addRole("a", nil)
	b := store.addRole("b", a)
	bID := b.ID
	a.ParentID = &bID

	provider := newTestProvider(t, store, Config{})

	_, err := provider.GetRoleHierarchy(context.Background(), a.ID)
	require.ErrorIs(t, err, ErrHierarchyCycle)
}

func TestGetRoleHierarchyDepthTruncation(t *testing.T) {
	store := newMockStore()
	var parent *Role
	roles := make([]*Role, 0, 6)
	for i := 0; i < 6; i++ {
		parent = store.addRole("level"+string(rune('a'+i)), parent)
		roles = append(roles, parent)
	}

	provider := newTestProvider(t, store, Config{MaxHierarchyDepth: 3})

	chain, err := provider.GetRoleHierarchy(context.Background(), roles[len(roles)-1].ID)
	require.NoError(t, err)
	assert.Len(t, chain, 3, "chain must truncate at the configured depth")
}

func TestHasRoleAndScope(t *testing.T) {
	store := newMockStore()
	role := store.addRole("manager", nil)
	userID := uuid.New()
	store.userRoles[userID] = []UserRole{
		{UserID: userID, RoleID: role.ID, Scope: map[string]string{"department": "sales"}},
	}

	provider := newTestProvider(t, store, Config{})

	has, err := provider.HasRole(context.Background(), userID, "manager", map[string]string{"department": "sales"})
	require.NoError(t, err)
	assert.True(t, has)

	has, err = provider.HasRole(context.Background(), userID, "manager", map[string]string{"department": "hr"})
	require.NoError(t, err)
	assert.False(t, has)

	// Unscoped query matches scoped assignments.
	has, err = provider.HasRole(context.Background(), userID, "manager", nil)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestGetUserRolesExpiredExcluded(t *testing.T) {
	store := newMockStore()
	active := store.addRole("editor", nil)
	lapsed := store.addRole("admin", nil)
	userID := uuid.New()
	expired := time.Now().Add(-time.Hour)
	store.userRoles[userID] = []UserRole{
		{UserID: userID, RoleID: active.ID, ExpiresAt: future(time.Hour)},
		{UserID: userID, RoleID: lapsed.ID, ExpiresAt: &expired},
	}

	provider := newTestProvider(t, store, Config{})

	roles, err := provider.GetUserRoles(context.Background(), userID, nil)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "editor", roles[0].Slug)
}

func TestGetUserRolesDanglingAssignmentSkipped(t *testing.T) {
	store := newMockStore()
	store.wrapNotFound = true
	userID := uuid.New()
	store.userRoles[userID] = []UserRole{{UserID: userID, RoleID: uuid.New()}}

	provider := newTestProvider(t, store, Config{})

	roles, err := provider.GetUserRoles(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

// ============================================================================
// AGGREGATION
// ============================================================================

func TestGetUserPermissions(t *testing.T) {
	store := newMockStore()
	edit := store.addPermission("posts.edit")
	store.addPermission("posts.view")
	role := store.addRole("viewer", nil)
	store.grantToRole(role, "posts.view", ResourceWildcard)
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: edit.ID, Slug: "posts.edit", Resource: "posts"},
	}
	store.userRoles[userID] = []UserRole{{UserID: userID, RoleID: role.ID}}

	provider := newTestProvider(t, store, Config{})

	result, err := provider.GetUserPermissions(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts.edit"}, result["posts"])
	assert.Equal(t, []string{"posts.view"}, result[ResourceWildcard])
}

func TestGetUserPermissionsMemoIsolation(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts"},
	}

	provider := newTestProvider(t, store, Config{})

	first, err := provider.GetUserPermissions(context.Background(), userID)
	require.NoError(t, err)
	first["posts"][0] = "mutated"

	second, err := provider.GetUserPermissions(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts.edit"}, second["posts"], "callers must not share the memoized map")
}

func TestGetAvailablePermissions(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.edit")
	named := store.addPermission("users.view")
	named.Name = "View Users"

	provider := newTestProvider(t, store, Config{})

	available, err := provider.GetAvailablePermissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Posts Edit", available["posts.edit"], "missing names fall back to a slug-derived label")
	assert.Equal(t, "View Users", available["users.view"])
}

// ============================================================================
// MUTATIONS
// ============================================================================

func TestAssignAndRevokePermission(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.edit")
	userID := uuid.New()

	provider := newTestProvider(t, store, Config{})

	require.NoError(t, provider.AssignPermission(context.Background(), userID, "posts.edit", "posts", GrantOptions{GrantedBy: "admin"}))

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, provider.RevokePermission(context.Background(), userID, "posts.edit", "posts"))

	allowed, err = provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed)

	err = provider.RevokePermission(context.Background(), userID, "posts.edit", "posts")
	assert.ErrorIs(t, err, ErrNotFound, "revoking an absent grant reports not found")
}

func TestAssignPermissionUnknownSlug(t *testing.T) {
	store := newMockStore()
	provider := newTestProvider(t, store, Config{})

	err := provider.AssignPermission(context.Background(), uuid.New(), "nope.missing", "", GrantOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchAssignPartialFailure(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.edit")
	userID := uuid.New()

	provider := newTestProvider(t, store, Config{})

	outcomes := provider.BatchAssignPermissions(context.Background(), userID, []BatchGrant{
		{Permission: "posts.edit", Resource: "posts"},
		{Permission: "unknown.slug", Resource: "posts"},
	})
	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, ErrNotFound)

	// The failed item must not roll back the successful one.
	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAssignAndRevokeRole(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.view")
	role := store.addRole("viewer", nil)
	store.grantToRole(role, "posts.view", ResourceWildcard)
	userID := uuid.New()

	provider := newTestProvider(t, store, Config{})

	require.NoError(t, provider.AssignRole(context.Background(), userID, "viewer", RoleAssignOptions{}))

	has, err := provider.HasRole(context.Background(), userID, "viewer", nil)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, provider.RevokeRole(context.Background(), userID, "viewer"))

	has, err = provider.HasRole(context.Background(), userID, "viewer", nil)
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, provider.RevokeRole(context.Background(), userID, "viewer"), ErrNotFound)
}

// ============================================================================
// CACHING
// ============================================================================

func TestCanCachesDecision(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts"},
	}

	provider, _ := newCachedProvider(t, store, Config{})

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	require.True(t, allowed)

	// Pull the grant out from under the cache; the stale allow remains until
	// invalidation or TTL.
	store.userPerms[userID] = nil

	allowed, err = provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed, "cached decision is served within the TTL")

	provider.InvalidateUserCache(context.Background(), userID)

	allowed, err = provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed, "invalidation forces recomputation")
}

func TestCanVolatileContextBypassesCache(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts"},
	}

	provider, mr := newCachedProvider(t, store, Config{})

	reqContext := map[string]string{"request_id": "abc-123"}
	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", reqContext)
	require.NoError(t, err)
	require.True(t, allowed)
	assert.Empty(t, mr.Keys(), "volatile context must not be cached")

	store.userPerms[userID] = nil
	allowed, err = provider.Can(context.Background(), userID, "posts.edit", "posts", reqContext)
	require.NoError(t, err)
	assert.False(t, allowed, "uncached checks always reflect the store")
}

func TestRevocationInvalidatesCachedChecks(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.edit")
	userID := uuid.New()

	provider, _ := newCachedProvider(t, store, Config{})

	require.NoError(t, provider.AssignPermission(context.Background(), userID, "posts.edit", "posts", GrantOptions{}))

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, provider.RevokePermission(context.Background(), userID, "posts.edit", "posts"))

	allowed, err = provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed, "a deny must follow revocation immediately")
}

func TestInvalidateAllCache(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts"},
	}

	provider, mr := newCachedProvider(t, store, Config{})

	_, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	_, err = provider.GetUserPermissions(context.Background(), userID)
	require.NoError(t, err)
	require.NotEmpty(t, mr.Keys())

	provider.InvalidateAllCache(context.Background())
	assert.Empty(t, mr.Keys())
}

func TestCacheOutageDegradesToStores(t *testing.T) {
	store := newMockStore()
	perm := store.addPermission("posts.edit")
	userID := uuid.New()
	store.userPerms[userID] = []UserPermission{
		{UserID: userID, PermissionID: perm.ID, Slug: "posts.edit", Resource: "posts"},
	}

	provider, mr := newCachedProvider(t, store, Config{})
	mr.Close()

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err, "cache outage must not fail checks")
	assert.True(t, allowed)
}

// ============================================================================
// HEALTH
// ============================================================================

func TestHealthCheck(t *testing.T) {
	store := newMockStore()
	provider, _ := newCachedProvider(t, store, Config{})

	status := provider.HealthCheck(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "ok", status.Checks["database"])
	assert.Equal(t, "ok", status.Checks["cache"])
}

func TestHealthCheckDegraded(t *testing.T) {
	store := newMockStore()
	store.pingErr = errors.New("connection refused")
	provider := newTestProvider(t, store, Config{})

	status := provider.HealthCheck(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.Contains(t, status.Checks["database"], "unavailable")
}

// ============================================================================
// END TO END
// ============================================================================

func TestEditorScenario(t *testing.T) {
	store := newMockStore()
	store.addPermission("posts.view")
	store.addPermission("posts.edit")
	store.addPermission("posts.publish")

	senior := store.addRole("senior_editor", nil)
	editor := store.addRole("editor", senior)
	store.grantToRole(editor, "posts.view", ResourceWildcard)
	store.grantToRole(editor, "posts.edit", "posts")
	store.grantToRole(senior, "posts.publish", "posts")

	userID := uuid.New()
	provider, _ := newCachedProvider(t, store, Config{EnableHierarchy: true, EnableInheritance: true})

	require.NoError(t, provider.AssignRole(context.Background(), userID, "editor", RoleAssignOptions{AssignedBy: "seed"}))

	allowed, err := provider.Can(context.Background(), userID, "posts.edit", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = provider.Can(context.Background(), userID, "posts.publish", "posts", nil)
	require.NoError(t, err)
	assert.True(t, allowed, "publish is inherited from senior_editor")

	allowed, err = provider.Can(context.Background(), userID, "posts.edit", "pages", nil)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, provider.RevokeRole(context.Background(), userID, "editor"))

	allowed, err = provider.Can(context.Background(), userID, "posts.publish", "posts", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}
