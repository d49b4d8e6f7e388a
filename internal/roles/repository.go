package roles

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence operations for role administration.
type Repository interface {
	List(ctx context.Context, filters RoleListFilters) ([]Role, error)
	GetBySlug(ctx context.Context, slug string) (*Role, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	Children(ctx context.Context, id uuid.UUID) ([]Role, error)
	Create(ctx context.Context, role Role) (*Role, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateRoleInput) (*Role, error)
	SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
	ReplacePermissions(ctx context.Context, roleID uuid.UUID, grants []PermissionGrant) error
}

// PermissionGrant attaches a permission to a role for a resource.
type PermissionGrant struct {
	PermissionID uuid.UUID
	Resource     string
}

// PermissionResolver looks up permission IDs by slug. The rbac store
// satisfies this.
type PermissionResolver interface {
	PermissionIDBySlug(ctx context.Context, slug string) (uuid.UUID, error)
}
