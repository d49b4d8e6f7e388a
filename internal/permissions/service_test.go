package permissions

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glueful/accessd/internal/rbac"
	"github.com/glueful/accessd/internal/shared"
)

type mockRepository struct {
	perms map[string]*Permission
}

func newMockRepository() *mockRepository {
	return &mockRepository{perms: make(map[string]*Permission)}
}

func (m *mockRepository) List(ctx context.Context, filters ListFilters) ([]Permission, int, error) {
	var out []Permission
	for _, perm := range m.perms {
		if filters.Category != "" && perm.Category != filters.Category {
			continue
		}
		if filters.Search != "" && !strings.Contains(perm.Slug, filters.Search) {
			continue
		}
		out = append(out, *perm)
	}
	return out, len(out), nil
}

func (m *mockRepository) GetBySlug(ctx context.Context, slug string) (*Permission, error) {
	if perm, ok := m.perms[slug]; ok {
		return perm, nil
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) Upsert(ctx context.Context, input CreateInput) (*Permission, error) {
	perm, ok := m.perms[input.Slug]
	if !ok {
		perm = &Permission{ID: uuid.New(), Slug: input.Slug}
		m.perms[input.Slug] = perm
	}
	perm.Name = input.Name
	perm.Description = input.Description
	perm.Category = input.Category
	perm.ResourceType = input.ResourceType
	return perm, nil
}

func (m *mockRepository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	for slug, perm := range m.perms {
		if perm.ID == id {
			delete(m.perms, slug)
			return true, nil
		}
	}
	return false, nil
}

func TestEnsure(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)

	perm, err := service.Ensure(context.Background(), CreateInput{Slug: "articles.edit"})
	require.NoError(t, err)
	assert.Equal(t, "articles.edit", perm.Name, "name defaults to the slug")

	// Re-ensuring updates in place instead of duplicating.
	perm, err = service.Ensure(context.Background(), CreateInput{Slug: "articles.edit", Name: "Edit Articles"})
	require.NoError(t, err)
	assert.Equal(t, "Edit Articles", perm.Name)
	assert.Len(t, repo.perms, 1)
}

func TestEnsureSlugValidation(t *testing.T) {
	service := NewService(newMockRepository())

	for _, slug := range []string{"", "edit", "Articles.Edit", "articles..edit", ".edit", "articles.edit!"} {
		_, err := service.Ensure(context.Background(), CreateInput{Slug: slug})
		assert.ErrorIs(t, err, shared.ErrValidation, "slug %q must be rejected", slug)
	}
}

func TestDeleteSystemProtected(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)

	perm, err := service.Ensure(context.Background(), CreateInput{Slug: "users.view"})
	require.NoError(t, err)
	perm.IsSystem = true

	err = service.Delete(context.Background(), "users.view")
	assert.ErrorIs(t, err, rbac.ErrSystemProtected)
}

func TestDelete(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)

	_, err := service.Ensure(context.Background(), CreateInput{Slug: "articles.edit"})
	require.NoError(t, err)

	require.NoError(t, service.Delete(context.Background(), "articles.edit"))
	assert.ErrorIs(t, service.Delete(context.Background(), "articles.edit"), shared.ErrNotFound)
}
