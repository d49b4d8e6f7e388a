package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PermissionRepository resolves permission catalog records for evaluation.
type PermissionRepository interface {
	GetBySlug(ctx context.Context, slug string) (*Permission, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Permission, error)
	ListActive(ctx context.Context) ([]Permission, error)
	ResourceTypes(ctx context.Context) (map[string]string, error)
	Ping(ctx context.Context) error
}

// RoleRepository resolves role catalog records for evaluation. Method names
// carry the Role prefix so one store can satisfy this contract alongside
// PermissionRepository.
type RoleRepository interface {
	GetRoleBySlug(ctx context.Context, slug string) (*Role, error)
	GetRoleByID(ctx context.Context, id uuid.UUID) (*Role, error)
}

// AssignmentRepository owns the join records between users, roles and
// permissions. The engine never holds authoritative copies of these rows,
// only cache entries derived from them.
type AssignmentRepository interface {
	ListUserPermissions(ctx context.Context, userID uuid.UUID) ([]UserPermission, error)
	UpsertUserPermission(ctx context.Context, grant UserPermission) error
	DeleteUserPermission(ctx context.Context, userID, permissionID uuid.UUID, resource string) (bool, error)

	ListUserRoles(ctx context.Context, userID uuid.UUID) ([]UserRole, error)
	UpsertUserRole(ctx context.Context, assignment UserRole) error
	DeleteUserRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error)

	ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]RolePermission, error)

	// DeleteExpired removes assignments whose expiry has passed and returns
	// the IDs of users whose grants were touched.
	DeleteExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
