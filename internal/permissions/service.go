package permissions

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/glueful/accessd/internal/rbac"
	"github.com/glueful/accessd/internal/shared"
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)+$`)

// Service wraps permission catalog business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns permissions matching the filters plus pagination metadata.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Permission, shared.Pagination, error) {
	perms, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return perms, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// Get fetches a permission by slug.
func (s *Service) Get(ctx context.Context, slug string) (*Permission, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// Ensure validates and upserts a permission definition. Slugs are dotted
// namespaces, e.g. "articles.edit".
func (s *Service) Ensure(ctx context.Context, input CreateInput) (*Permission, error) {
	input.Slug = strings.TrimSpace(input.Slug)
	input.Name = strings.TrimSpace(input.Name)
	if !slugPattern.MatchString(input.Slug) {
		return nil, fmt.Errorf("%w: invalid permission slug %q", shared.ErrValidation, input.Slug)
	}
	if input.Name == "" {
		input.Name = input.Slug
	}
	return s.repo.Upsert(ctx, input)
}

// Delete soft-deletes a permission. System permissions are protected.
func (s *Service) Delete(ctx context.Context, slug string) error {
	perm, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return rbac.ErrSystemProtected
	}
	deleted, err := s.repo.SoftDelete(ctx, perm.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return shared.ErrNotFound
	}
	return nil
}
