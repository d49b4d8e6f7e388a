package permissions

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence operations for the permission catalog.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Permission, int, error)
	GetBySlug(ctx context.Context, slug string) (*Permission, error)
	Upsert(ctx context.Context, input CreateInput) (*Permission, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
}
