package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/glueful/accessd/internal/observability"
)

// Default cache lifetimes. Checks are more volatile than permission sets, so
// they age out faster. Role grants sit between the two and are refreshed by
// TTL only, so a role's permission set may lag its last edit by up to
// DefaultRolePermsTTL unless caches are invalidated explicitly.
const (
	DefaultCheckTTL     = 15 * time.Minute
	DefaultUserPermsTTL = time.Hour
	DefaultRolePermsTTL = 30 * time.Minute

	DefaultMaxHierarchyDepth = 10
)

// Config tunes the evaluation engine.
type Config struct {
	CacheEnabled      bool
	CheckTTL          time.Duration
	UserPermsTTL      time.Duration
	RolePermsTTL      time.Duration
	MaxHierarchyDepth int
	EnableHierarchy   bool
	EnableInheritance bool
}

func (c Config) withDefaults() Config {
	if c.CheckTTL <= 0 {
		c.CheckTTL = DefaultCheckTTL
	}
	if c.UserPermsTTL <= 0 {
		c.UserPermsTTL = DefaultUserPermsTTL
	}
	if c.RolePermsTTL <= 0 {
		c.RolePermsTTL = DefaultRolePermsTTL
	}
	if c.MaxHierarchyDepth <= 0 {
		c.MaxHierarchyDepth = DefaultMaxHierarchyDepth
	}
	return c
}

// AuditEvent describes a grant or revocation for the audit trail.
type AuditEvent struct {
	Action   string
	UserID   uuid.UUID
	Subject  string
	Resource string
	Actor    string
	At       time.Time
}

// AuditSink receives assignment mutations. Recording is fire-and-forget from
// the engine's point of view.
type AuditSink interface {
	RecordAssignment(ctx context.Context, event AuditEvent)
}

// Provider is the permission evaluation engine. It combines direct grants,
// role assignments and role-hierarchy inheritance into boolean decisions and
// keeps a two-layer (in-process + distributed) advisory cache over them.
type Provider struct {
	perms       PermissionRepository
	roles       RoleRepository
	assignments AssignmentRepository
	rawCache    Cache
	cache       *bestEffortCache
	audit       AuditSink
	logger      *slog.Logger
	metrics     *observability.Metrics
	cfg         Config

	mu   sync.RWMutex
	memo map[uuid.UUID]map[string][]string
}

// NewProvider constructs the engine. All collaborators are explicit; cache may
// be nil, which disables memoization entirely.
func NewProvider(perms PermissionRepository, roles RoleRepository, assignments AssignmentRepository, cache Cache, logger *slog.Logger, cfg Config) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		perms:       perms,
		roles:       roles,
		assignments: assignments,
		rawCache:    cache,
		cache:       newBestEffortCache(cache, logger),
		logger:      logger,
		cfg:         cfg.withDefaults(),
		memo:        make(map[uuid.UUID]map[string][]string),
	}
}

// WithAudit attaches an audit sink for assignment mutations.
func (p *Provider) WithAudit(sink AuditSink) *Provider {
	p.audit = sink
	return p
}

// WithMetrics attaches prometheus counters for checks and cache events.
func (p *Provider) WithMetrics(m *observability.Metrics) *Provider {
	p.metrics = m
	return p
}

// Can decides whether the user may exercise the permission on the resource
// under the given request context. Store failures surface as errors and are
// never conflated with a denied decision.
func (p *Provider) Can(ctx context.Context, userID uuid.UUID, permission, resource string, reqContext map[string]string) (bool, error) {
	if resource == "" {
		resource = ResourceWildcard
	}

	cacheable := p.cfg.CacheEnabled && contextCacheable(reqContext)
	key := checkKey(userID, permission, resource, reqContext)

	if cacheable {
		if payload, ok := p.cache.Get(ctx, key); ok {
			p.metrics.ObserveCacheEvent("check_hit")
			allowed := len(payload) == 1 && payload[0] == '1'
			p.metrics.ObserveCheck(allowed)
			return allowed, nil
		}
		p.metrics.ObserveCacheEvent("check_miss")
	}

	allowed, err := p.evaluate(ctx, userID, permission, resource, reqContext)
	if err != nil {
		return false, err
	}

	if cacheable {
		payload := []byte("0")
		if allowed {
			payload = []byte("1")
		}
		p.cache.Set(ctx, key, payload, p.cfg.CheckTTL)
	}
	p.metrics.ObserveCheck(allowed)
	return allowed, nil
}

func (p *Provider) evaluate(ctx context.Context, userID uuid.UUID, permission, resource string, reqContext map[string]string) (bool, error) {
	now := time.Now()

	// Direct grants win first and short-circuit.
	grants, err := p.assignments.ListUserPermissions(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("rbac: list user permissions: %w", err)
	}
	for _, grant := range grants {
		if grant.Slug != permission || grant.Expired(now) {
			continue
		}
		if !resourceMatches(grant.Resource, resource) {
			continue
		}
		if !constraintsSatisfied(grant.Constraints, reqContext) {
			continue
		}
		return true, nil
	}

	// Role grants, then inherited grants from ancestor roles.
	roles, err := p.activeRoles(ctx, userID, nil)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		granted, err := p.roleGrants(ctx, role.ID, permission, resource)
		if err != nil {
			return false, err
		}
		if granted {
			return true, nil
		}
		if !p.cfg.EnableHierarchy || !p.cfg.EnableInheritance {
			continue
		}
		ancestors, err := p.GetRoleHierarchy(ctx, role.ID)
		if err != nil {
			return false, err
		}
		for _, ancestor := range ancestors {
			granted, err := p.roleGrants(ctx, ancestor.ID, permission, resource)
			if err != nil {
				return false, err
			}
			if granted {
				return true, nil
			}
		}
	}
	return false, nil
}

// GetUserPermissions returns every permission available to the user keyed by
// resource, with the wildcard bucket under "*". Checked against the in-process
// memo, then the distributed cache, then recomputed from the stores.
func (p *Provider) GetUserPermissions(ctx context.Context, userID uuid.UUID) (map[string][]string, error) {
	p.mu.RLock()
	if cached, ok := p.memo[userID]; ok {
		p.mu.RUnlock()
		return clonePermissionMap(cached), nil
	}
	p.mu.RUnlock()

	key := userPermissionsKey(userID)
	if p.cfg.CacheEnabled {
		if payload, ok := p.cache.Get(ctx, key); ok {
			var result map[string][]string
			if err := json.Unmarshal(payload, &result); err == nil {
				p.storeMemo(userID, result)
				p.metrics.ObserveCacheEvent("user_perms_hit")
				return result, nil
			}
			p.logger.Warn("discarding corrupt cached permission set", slog.String("user", userID.String()))
		}
		p.metrics.ObserveCacheEvent("user_perms_miss")
	}

	result, err := p.computeUserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if p.cfg.CacheEnabled {
		if payload, err := json.Marshal(result); err == nil {
			p.cache.Set(ctx, key, payload, p.cfg.UserPermsTTL)
		}
	}
	p.storeMemo(userID, result)
	return result, nil
}

func (p *Provider) computeUserPermissions(ctx context.Context, userID uuid.UUID) (map[string][]string, error) {
	now := time.Now()
	buckets := make(map[string]map[string]struct{})
	add := func(resource, slug string) {
		if resource == "" {
			resource = ResourceWildcard
		}
		if buckets[resource] == nil {
			buckets[resource] = make(map[string]struct{})
		}
		buckets[resource][slug] = struct{}{}
	}

	grants, err := p.assignments.ListUserPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list user permissions: %w", err)
	}
	for _, grant := range grants {
		if !grant.Expired(now) {
			add(grant.Resource, grant.Slug)
		}
	}

	roles, err := p.activeRoles(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{})
	for _, role := range roles {
		chain := []Role{role}
		if p.cfg.EnableHierarchy && p.cfg.EnableInheritance {
			ancestors, err := p.GetRoleHierarchy(ctx, role.ID)
			if err != nil {
				return nil, err
			}
			chain = append(chain, ancestors...)
		}
		for _, member := range chain {
			if _, done := seen[member.ID]; done {
				continue
			}
			seen[member.ID] = struct{}{}
			rolePerms, err := p.assignments.ListRolePermissions(ctx, member.ID)
			if err != nil {
				return nil, fmt.Errorf("rbac: list role permissions: %w", err)
			}
			for _, grant := range rolePerms {
				add(grant.Resource, grant.Slug)
			}
		}
	}

	result := make(map[string][]string, len(buckets))
	for resource, slugs := range buckets {
		list := make([]string, 0, len(slugs))
		for slug := range slugs {
			list = append(list, slug)
		}
		sort.Strings(list)
		result[resource] = list
	}
	return result, nil
}

// AssignPermission grants the permission directly to the user and invalidates
// every cached decision for them. Unknown slugs fail with ErrNotFound.
func (p *Provider) AssignPermission(ctx context.Context, userID uuid.UUID, permission, resource string, opts GrantOptions) error {
	perm, err := p.perms.GetBySlug(ctx, permission)
	if err != nil {
		return err
	}
	if resource == "" {
		resource = ResourceWildcard
	}
	grant := UserPermission{
		UserID:       userID,
		PermissionID: perm.ID,
		Resource:     resource,
		Constraints:  opts.Constraints,
		ExpiresAt:    opts.ExpiresAt,
		GrantedBy:    opts.GrantedBy,
	}
	if err := p.assignments.UpsertUserPermission(ctx, grant); err != nil {
		return fmt.Errorf("rbac: assign permission: %w", err)
	}
	p.InvalidateUserCache(ctx, userID)
	p.recordAudit(ctx, "permission.assign", userID, permission, resource, opts.GrantedBy)
	return nil
}

// RevokePermission removes a direct grant. ErrNotFound is returned when no
// matching grant existed.
func (p *Provider) RevokePermission(ctx context.Context, userID uuid.UUID, permission, resource string) error {
	perm, err := p.perms.GetBySlug(ctx, permission)
	if err != nil {
		return err
	}
	if resource == "" {
		resource = ResourceWildcard
	}
	deleted, err := p.assignments.DeleteUserPermission(ctx, userID, perm.ID, resource)
	if err != nil {
		return fmt.Errorf("rbac: revoke permission: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	p.InvalidateUserCache(ctx, userID)
	p.recordAudit(ctx, "permission.revoke", userID, permission, resource, "")
	return nil
}

// BatchAssignPermissions applies each grant independently. A failed item does
// not roll back earlier ones; the caller gets a per-item outcome instead.
func (p *Provider) BatchAssignPermissions(ctx context.Context, userID uuid.UUID, grants []BatchGrant) []BatchOutcome {
	outcomes := make([]BatchOutcome, 0, len(grants))
	for _, item := range grants {
		err := p.AssignPermission(ctx, userID, item.Permission, item.Resource, item.Options)
		outcomes = append(outcomes, BatchOutcome{Permission: item.Permission, Resource: item.Resource, Err: err})
	}
	return outcomes
}

// BatchRevokePermissions revokes each grant independently.
func (p *Provider) BatchRevokePermissions(ctx context.Context, userID uuid.UUID, revocations []BatchRevocation) []BatchOutcome {
	outcomes := make([]BatchOutcome, 0, len(revocations))
	for _, item := range revocations {
		err := p.RevokePermission(ctx, userID, item.Permission, item.Resource)
		outcomes = append(outcomes, BatchOutcome{Permission: item.Permission, Resource: item.Resource, Err: err})
	}
	return outcomes
}

// AssignRole assigns the role to the user. Roles and permissions share one
// invalidation scope per user since both feed Can.
func (p *Provider) AssignRole(ctx context.Context, userID uuid.UUID, roleSlug string, opts RoleAssignOptions) error {
	role, err := p.roles.GetRoleBySlug(ctx, roleSlug)
	if err != nil {
		return err
	}
	assignment := UserRole{
		UserID:     userID,
		RoleID:     role.ID,
		Scope:      opts.Scope,
		ExpiresAt:  opts.ExpiresAt,
		AssignedBy: opts.AssignedBy,
	}
	if err := p.assignments.UpsertUserRole(ctx, assignment); err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	p.InvalidateUserCache(ctx, userID)
	p.recordAudit(ctx, "role.assign", userID, roleSlug, "", opts.AssignedBy)
	return nil
}

// RevokeRole removes every assignment of the role across all scopes.
func (p *Provider) RevokeRole(ctx context.Context, userID uuid.UUID, roleSlug string) error {
	role, err := p.roles.GetRoleBySlug(ctx, roleSlug)
	if err != nil {
		return err
	}
	deleted, err := p.assignments.DeleteUserRole(ctx, userID, role.ID)
	if err != nil {
		return fmt.Errorf("rbac: revoke role: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	p.InvalidateUserCache(ctx, userID)
	p.recordAudit(ctx, "role.revoke", userID, roleSlug, "", "")
	return nil
}

// GetUserRoles returns the active roles assigned to the user, narrowed by the
// optional scope and excluding expired assignments.
func (p *Provider) GetUserRoles(ctx context.Context, userID uuid.UUID, scope map[string]string) ([]Role, error) {
	return p.activeRoles(ctx, userID, scope)
}

// HasRole reports whether the user holds the role under the optional scope.
func (p *Provider) HasRole(ctx context.Context, userID uuid.UUID, roleSlug string, scope map[string]string) (bool, error) {
	roles, err := p.activeRoles(ctx, userID, scope)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Slug == roleSlug {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provider) activeRoles(ctx context.Context, userID uuid.UUID, scope map[string]string) ([]Role, error) {
	assignments, err := p.userRoleAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var roles []Role
	seen := make(map[uuid.UUID]struct{})
	for _, assignment := range assignments {
		if assignment.Expired(now) || !assignment.MatchesScope(scope) {
			continue
		}
		if _, done := seen[assignment.RoleID]; done {
			continue
		}
		seen[assignment.RoleID] = struct{}{}
		role, err := p.roles.GetRoleByID(ctx, assignment.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("rbac: load role %s: %w", assignment.RoleID, err)
		}
		if role.Active() {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

func (p *Provider) userRoleAssignments(ctx context.Context, userID uuid.UUID) ([]UserRole, error) {
	key := userRolesKey(userID)
	if p.cfg.CacheEnabled {
		if payload, ok := p.cache.Get(ctx, key); ok {
			var cached []UserRole
			if err := json.Unmarshal(payload, &cached); err == nil {
				p.metrics.ObserveCacheEvent("user_roles_hit")
				return cached, nil
			}
		}
		p.metrics.ObserveCacheEvent("user_roles_miss")
	}

	assignments, err := p.assignments.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list user roles: %w", err)
	}
	if p.cfg.CacheEnabled {
		if payload, err := json.Marshal(assignments); err == nil {
			p.cache.Set(ctx, key, payload, p.cfg.UserPermsTTL)
		}
	}
	return assignments, nil
}

// GetRoleHierarchy returns the ordered ancestor chain of the role, immediate
// parent first. Cycles are a configuration error and are refused outright;
// chains longer than the configured maximum are truncated.
func (p *Provider) GetRoleHierarchy(ctx context.Context, roleID uuid.UUID) ([]Role, error) {
	role, err := p.roles.GetRoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]struct{}{role.ID: {}}
	var ancestors []Role
	current := role
	for current.ParentID != nil && len(ancestors) < p.cfg.MaxHierarchyDepth {
		if _, looped := visited[*current.ParentID]; looped {
			return nil, fmt.Errorf("%w: role %s", ErrHierarchyCycle, roleID)
		}
		parent, err := p.roles.GetRoleByID(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("rbac: load parent role: %w", err)
		}
		visited[parent.ID] = struct{}{}
		ancestors = append(ancestors, *parent)
		current = parent
	}
	return ancestors, nil
}

// roleGrants reports whether the role directly grants the permission for the
// resource. The role's grant list is cached on its own TTL and refreshed only
// by expiry, never by explicit signal when the role's permissions change.
func (p *Provider) roleGrants(ctx context.Context, roleID uuid.UUID, permission, resource string) (bool, error) {
	var grants []RolePermission

	key := rolePermissionsKey(roleID)
	loaded := false
	if p.cfg.CacheEnabled {
		if payload, ok := p.cache.Get(ctx, key); ok {
			if err := json.Unmarshal(payload, &grants); err == nil {
				loaded = true
				p.metrics.ObserveCacheEvent("role_perms_hit")
			}
		}
	}
	if !loaded {
		if p.cfg.CacheEnabled {
			p.metrics.ObserveCacheEvent("role_perms_miss")
		}
		var err error
		grants, err = p.assignments.ListRolePermissions(ctx, roleID)
		if err != nil {
			return false, fmt.Errorf("rbac: list role permissions: %w", err)
		}
		if p.cfg.CacheEnabled {
			if payload, err := json.Marshal(grants); err == nil {
				p.cache.Set(ctx, key, payload, p.cfg.RolePermsTTL)
			}
		}
	}

	for _, grant := range grants {
		if grant.Slug == permission && resourceMatches(grant.Resource, resource) {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateUserCache clears both cache layers for the user: the in-process
// memo, the aggregate keys, and every cached check decision.
func (p *Provider) InvalidateUserCache(ctx context.Context, userID uuid.UUID) {
	p.mu.Lock()
	delete(p.memo, userID)
	p.mu.Unlock()

	p.cache.Delete(ctx, userPermissionsKey(userID), userRolesKey(userID))
	p.cache.DeletePattern(ctx, userCheckPattern(userID))
}

// InvalidateAllCache clears everything under the RBAC namespace. Used after
// bulk administrative changes such as editing a role's permission set.
func (p *Provider) InvalidateAllCache(ctx context.Context) {
	p.mu.Lock()
	p.memo = make(map[uuid.UUID]map[string][]string)
	p.mu.Unlock()

	p.cache.DeletePattern(ctx, allKeysPattern())
}

// GetAvailablePermissions returns the catalog as slug -> label.
func (p *Provider) GetAvailablePermissions(ctx context.Context) (map[string]string, error) {
	perms, err := p.perms.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	available := make(map[string]string, len(perms))
	for _, perm := range perms {
		label := perm.Name
		if label == "" {
			label = labelFromSlug(perm.Slug)
		}
		available[perm.Slug] = label
	}
	return available, nil
}

// GetAvailableResources returns the known resource types as type -> label.
func (p *Provider) GetAvailableResources(ctx context.Context) (map[string]string, error) {
	types, err := p.perms.ResourceTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: list resource types: %w", err)
	}
	return types, nil
}

// HealthCheck probes the database and cache concurrently. The cache being down
// degrades the status but the engine stays usable.
func (p *Provider) HealthCheck(ctx context.Context) HealthStatus {
	checks := make(map[string]string)
	var mu sync.Mutex
	record := func(name, state string) {
		mu.Lock()
		checks[name] = state
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.perms.Ping(gctx); err != nil {
			record("database", "unavailable: "+err.Error())
			return err
		}
		record("database", "ok")
		return nil
	})
	g.Go(func() error {
		if p.rawCache == nil {
			record("cache", "disabled")
			return nil
		}
		key := cacheNamespace + "health:ping"
		if err := p.rawCache.Set(gctx, key, []byte("1"), time.Minute); err != nil {
			record("cache", "unavailable: "+err.Error())
			return nil
		}
		record("cache", "ok")
		return nil
	})

	status := "ok"
	if err := g.Wait(); err != nil {
		status = "degraded"
	} else {
		for _, state := range checks {
			if state != "ok" && state != "disabled" {
				status = "degraded"
			}
		}
	}
	return HealthStatus{Status: status, Checks: checks, Timestamp: time.Now().UTC()}
}

func (p *Provider) storeMemo(userID uuid.UUID, result map[string][]string) {
	p.mu.Lock()
	p.memo[userID] = clonePermissionMap(result)
	p.mu.Unlock()
}

func (p *Provider) recordAudit(ctx context.Context, action string, userID uuid.UUID, subject, resource, actor string) {
	if p.audit == nil {
		return
	}
	if actor == "" {
		actor = actorName(ctx)
	}
	p.audit.RecordAssignment(ctx, AuditEvent{
		Action:   action,
		UserID:   userID,
		Subject:  subject,
		Resource: resource,
		Actor:    actor,
		At:       time.Now().UTC(),
	})
}

// constraintsSatisfied evaluates the flat constraint map against the request
// context. Scalars require equality, arrays require membership; a constraint
// whose key is missing from the context fails (deny-biased).
func constraintsSatisfied(constraints map[string]any, reqContext map[string]string) bool {
	for key, want := range constraints {
		got, ok := reqContext[key]
		if !ok {
			return false
		}
		switch value := want.(type) {
		case string:
			if got != value {
				return false
			}
		case []any:
			matched := false
			for _, candidate := range value {
				if got == fmt.Sprint(candidate) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if got != fmt.Sprint(value) {
				return false
			}
		}
	}
	return true
}

func clonePermissionMap(src map[string][]string) map[string][]string {
	dst := make(map[string][]string, len(src))
	for resource, slugs := range src {
		list := make([]string, len(slugs))
		copy(list, slugs)
		dst[resource] = list
	}
	return dst
}
