package roles

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/glueful/accessd/internal/rbac"
	"github.com/glueful/accessd/internal/shared"
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*$`)

// CacheInvalidator clears evaluation caches after role mutations that affect
// every holder of a role.
type CacheInvalidator interface {
	InvalidateAllCache(ctx context.Context)
}

// Service wraps role administration business rules.
type Service struct {
	repo     Repository
	perms    PermissionResolver
	cache    CacheInvalidator
	maxDepth int
}

// NewService constructs a new Service.
func NewService(repo Repository, perms PermissionResolver, maxDepth int) *Service {
	if maxDepth <= 0 {
		maxDepth = rbac.DefaultMaxHierarchyDepth
	}
	return &Service{repo: repo, perms: perms, maxDepth: maxDepth}
}

// WithCacheInvalidator attaches an evaluation-cache invalidator that is hit
// after mutations affecting every holder of a role.
func (s *Service) WithCacheInvalidator(cache CacheInvalidator) *Service {
	s.cache = cache
	return s
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateAllCache(ctx)
	}
}

// List returns roles matching the filters.
func (s *Service) List(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	return s.repo.List(ctx, filters)
}

// Get fetches a role by slug.
func (s *Service) Get(ctx context.Context, slug string) (*Role, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// Create validates and inserts a new role. Hierarchy constraints are enforced
// here, before any store write.
func (s *Service) Create(ctx context.Context, input CreateRoleInput) (*Role, error) {
	input.Slug = strings.TrimSpace(input.Slug)
	input.Name = strings.TrimSpace(input.Name)
	if input.Slug == "" || !slugPattern.MatchString(input.Slug) {
		return nil, fmt.Errorf("%w: invalid role slug %q", shared.ErrValidation, input.Slug)
	}
	if input.Name == "" {
		input.Name = input.Slug
	}

	role := Role{
		Slug:        input.Slug,
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Level:       input.Level,
		Status:      rbac.RoleStatusActive,
	}

	if input.ParentSlug != "" {
		parent, err := s.repo.GetBySlug(ctx, input.ParentSlug)
		if err != nil {
			return nil, err
		}
		depth, err := s.chainDepth(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		if depth+1 >= s.maxDepth {
			return nil, fmt.Errorf("%w: parent chain is %d deep, max %d", rbac.ErrMaxDepthExceeded, depth+1, s.maxDepth)
		}
		role.ParentID = &parent.ID
	}

	return s.repo.Create(ctx, role)
}

// Update changes mutable role attributes.
func (s *Service) Update(ctx context.Context, slug string, input UpdateRoleInput) (*Role, error) {
	role, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = role.Status
	}
	if input.Status != rbac.RoleStatusActive && input.Status != rbac.RoleStatusInactive {
		return nil, fmt.Errorf("%w: invalid status %q", shared.ErrValidation, input.Status)
	}
	if strings.TrimSpace(input.Name) == "" {
		input.Name = role.Name
	}
	return s.repo.Update(ctx, role.ID, input)
}

// SetParent re-parents a role. Assigning one of the role's own descendants as
// its parent is refused, as is exceeding the configured maximum depth.
func (s *Service) SetParent(ctx context.Context, slug, parentSlug string) error {
	role, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if parentSlug == "" {
		return s.repo.SetParent(ctx, role.ID, nil)
	}

	parent, err := s.repo.GetBySlug(ctx, parentSlug)
	if err != nil {
		return err
	}
	if parent.ID == role.ID {
		return fmt.Errorf("%w: role cannot be its own parent", rbac.ErrHierarchyCycle)
	}

	// Walk up from the candidate parent; meeting the role again means the
	// candidate is a descendant.
	current := parent
	steps := 0
	for {
		if current.ID == role.ID {
			return fmt.Errorf("%w: %s is a descendant of %s", rbac.ErrHierarchyCycle, parentSlug, slug)
		}
		if current.ParentID == nil {
			break
		}
		steps++
		if steps >= s.maxDepth {
			return fmt.Errorf("%w: parent chain exceeds %d", rbac.ErrMaxDepthExceeded, s.maxDepth)
		}
		next, err := s.repo.GetByID(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				break
			}
			return err
		}
		current = next
	}

	depth, err := s.chainDepth(ctx, parent.ID)
	if err != nil {
		return err
	}
	height, err := s.subtreeHeight(ctx, role.ID, 0)
	if err != nil {
		return err
	}
	if depth+1+height >= s.maxDepth {
		return fmt.Errorf("%w: resulting chain would exceed %d", rbac.ErrMaxDepthExceeded, s.maxDepth)
	}

	return s.repo.SetParent(ctx, role.ID, &parent.ID)
}

// Delete soft-deletes a role. System roles are protected from normal flows.
func (s *Service) Delete(ctx context.Context, slug string) error {
	role, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return rbac.ErrSystemProtected
	}
	deleted, err := s.repo.SoftDelete(ctx, role.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return shared.ErrNotFound
	}
	s.invalidate(ctx)
	return nil
}

// SetPermissions replaces the role's permission set. With no invalidator
// attached, evaluation caches keep serving the old set until their TTL lapses.
func (s *Service) SetPermissions(ctx context.Context, slug string, grants []SlugGrant) error {
	role, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	resolved := make([]PermissionGrant, 0, len(grants))
	for _, grant := range grants {
		permID, err := s.perms.PermissionIDBySlug(ctx, grant.Permission)
		if err != nil {
			return fmt.Errorf("resolve permission %q: %w", grant.Permission, err)
		}
		resolved = append(resolved, PermissionGrant{PermissionID: permID, Resource: grant.Resource})
	}
	if err := s.repo.ReplacePermissions(ctx, role.ID, resolved); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// SlugGrant names a permission by slug with an optional resource filter.
type SlugGrant struct {
	Permission string
	Resource   string
}

func (s *Service) chainDepth(ctx context.Context, id uuid.UUID) (int, error) {
	depth := 0
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	for current.ParentID != nil {
		depth++
		if depth >= s.maxDepth {
			return depth, nil
		}
		next, err := s.repo.GetByID(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				break
			}
			return 0, err
		}
		current = next
	}
	return depth, nil
}

// subtreeHeight returns the height of the hierarchy below the role: 0 for a
// leaf, 1 when it has direct children, and so on. The guard stops runaway
// recursion on corrupt data.
func (s *Service) subtreeHeight(ctx context.Context, id uuid.UUID, guard int) (int, error) {
	if guard >= s.maxDepth {
		return 0, nil
	}
	children, err := s.repo.Children(ctx, id)
	if err != nil {
		return 0, err
	}
	height := 0
	for _, child := range children {
		h, err := s.subtreeHeight(ctx, child.ID, guard+1)
		if err != nil {
			return 0, err
		}
		if h+1 > height {
			height = h + 1
		}
	}
	return height, nil
}
