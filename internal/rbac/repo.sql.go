package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements the store contracts using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var (
	_ PermissionRepository = (*PGRepository)(nil)
	_ RoleRepository       = (*PGRepository)(nil)
	_ AssignmentRepository = (*PGRepository)(nil)
)

const permissionColumns = `id, slug, name, description, category, resource_type, is_system, created_at, updated_at, deleted_at`

// GetBySlug fetches a permission by its slug, excluding soft-deleted rows.
func (r *PGRepository) GetBySlug(ctx context.Context, slug string) (*Permission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE slug = $1 AND deleted_at IS NULL`, slug)
	return scanPermission(row)
}

// GetByID fetches a permission by ID, excluding soft-deleted rows.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Permission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanPermission(row)
}

// ListActive returns all non-deleted permissions ordered by slug.
func (r *PGRepository) ListActive(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE deleted_at IS NULL ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *perm)
	}
	return perms, rows.Err()
}

// ResourceTypes returns the distinct resource types in the catalog keyed by type.
func (r *PGRepository) ResourceTypes(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT resource_type FROM permissions WHERE deleted_at IS NULL AND resource_type <> '' ORDER BY resource_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var rt string
		if err := rows.Scan(&rt); err != nil {
			return nil, err
		}
		types[rt] = labelFromSlug(rt)
	}
	return types, rows.Err()
}

// PermissionIDBySlug resolves a permission slug to its ID. Satisfies the
// resolver contract used by role administration.
func (r *PGRepository) PermissionIDBySlug(ctx context.Context, slug string) (uuid.UUID, error) {
	perm, err := r.GetBySlug(ctx, slug)
	if err != nil {
		return uuid.Nil, err
	}
	return perm.ID, nil
}

// Ping verifies database connectivity for health checks.
func (r *PGRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const roleColumns = `id, slug, name, description, level, status, is_system, parent_id, created_at, updated_at`

// GetRoleBySlug fetches a role by slug.
func (r *PGRepository) GetRoleBySlug(ctx context.Context, slug string) (*Role, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE slug = $1 AND deleted_at IS NULL`, slug)
	return scanRole(row)
}

// GetRoleByID fetches a role by ID.
func (r *PGRepository) GetRoleByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanRole(row)
}

// ListUserPermissions returns every direct grant for the user joined with its
// permission slug. Expiry filtering is left to the engine so expired rows can
// still be reported by administrative listings.
func (r *PGRepository) ListUserPermissions(ctx context.Context, userID uuid.UUID) ([]UserPermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT up.user_id, up.permission_id, p.slug, up.resource, up.constraints, up.expires_at, up.granted_by, up.created_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 AND p.deleted_at IS NULL
		ORDER BY p.slug, up.resource`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []UserPermission
	for rows.Next() {
		var (
			grant       UserPermission
			constraints []byte
			expiresAt   pgtype.Timestamptz
			grantedBy   pgtype.Text
		)
		if err := rows.Scan(&grant.UserID, &grant.PermissionID, &grant.Slug, &grant.Resource,
			&constraints, &expiresAt, &grantedBy, &grant.CreatedAt); err != nil {
			return nil, err
		}
		if len(constraints) > 0 {
			if err := json.Unmarshal(constraints, &grant.Constraints); err != nil {
				return nil, fmt.Errorf("rbac: decode constraints for %s: %w", grant.Slug, err)
			}
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			grant.ExpiresAt = &t
		}
		grant.GrantedBy = grantedBy.String
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// UpsertUserPermission writes a direct grant. Re-granting the same
// (user, permission, resource) refreshes expiry, constraints and metadata
// instead of stacking a duplicate row.
func (r *PGRepository) UpsertUserPermission(ctx context.Context, grant UserPermission) error {
	constraints, err := marshalJSONMap(grant.Constraints)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConstraints, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, resource, constraints, expires_at, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, permission_id, resource)
		DO UPDATE SET constraints = EXCLUDED.constraints, expires_at = EXCLUDED.expires_at, granted_by = EXCLUDED.granted_by`,
		grant.UserID, grant.PermissionID, grant.Resource, constraints,
		timestamptz(grant.ExpiresAt), textOrNull(grant.GrantedBy))
	return err
}

// DeleteUserPermission removes a direct grant. The second return value reports
// whether a row existed.
func (r *PGRepository) DeleteUserPermission(ctx context.Context, userID, permissionID uuid.UUID, resource string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2 AND resource = $3`,
		userID, permissionID, resource)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListUserRoles returns every role assignment for the user.
func (r *PGRepository) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]UserRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ur.user_id, ur.role_id, ur.scope, ur.expires_at, ur.assigned_by, ur.created_at
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1 AND ro.deleted_at IS NULL
		ORDER BY ur.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []UserRole
	for rows.Next() {
		var (
			assignment UserRole
			scope      []byte
			expiresAt  pgtype.Timestamptz
			assignedBy pgtype.Text
		)
		if err := rows.Scan(&assignment.UserID, &assignment.RoleID, &scope,
			&expiresAt, &assignedBy, &assignment.CreatedAt); err != nil {
			return nil, err
		}
		if len(scope) > 0 {
			if err := json.Unmarshal(scope, &assignment.Scope); err != nil {
				return nil, fmt.Errorf("rbac: decode scope for role %s: %w", assignment.RoleID, err)
			}
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			assignment.ExpiresAt = &t
		}
		assignment.AssignedBy = assignedBy.String
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

// UpsertUserRole writes a role assignment, refreshing scope and expiry when
// the same (user, role, scope) pair is assigned again.
func (r *PGRepository) UpsertUserRole(ctx context.Context, assignment UserRole) error {
	scope, err := marshalScope(assignment.Scope)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, scope, scope_hash, expires_at, assigned_by, created_at)
		VALUES ($1, $2, $3, md5($3::text), $4, $5, now())
		ON CONFLICT (user_id, role_id, scope_hash)
		DO UPDATE SET scope = EXCLUDED.scope, expires_at = EXCLUDED.expires_at, assigned_by = EXCLUDED.assigned_by`,
		assignment.UserID, assignment.RoleID, scope,
		timestamptz(assignment.ExpiresAt), textOrNull(assignment.AssignedBy))
	return err
}

// DeleteUserRole removes every assignment of the role to the user across all
// scopes. The second return value reports whether any row existed.
func (r *PGRepository) DeleteUserRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListRolePermissions returns the permissions attached to a role.
func (r *PGRepository) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]RolePermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rp.role_id, rp.permission_id, p.slug, rp.resource, rp.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND p.deleted_at IS NULL
		ORDER BY p.slug, rp.resource`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []RolePermission
	for rows.Next() {
		var grant RolePermission
		if err := rows.Scan(&grant.RoleID, &grant.PermissionID, &grant.Slug, &grant.Resource, &grant.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// DeleteExpired physically removes lapsed grants and role assignments,
// returning the distinct users that were affected.
func (r *PGRepository) DeleteExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	affected := make(map[uuid.UUID]struct{})

	collect := func(query string) error {
		rows, err := r.pool.Query(ctx, query, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var userID uuid.UUID
			if err := rows.Scan(&userID); err != nil {
				return err
			}
			affected[userID] = struct{}{}
		}
		return rows.Err()
	}

	if err := collect(`DELETE FROM user_permissions WHERE expires_at IS NOT NULL AND expires_at < $1 RETURNING user_id`); err != nil {
		return nil, err
	}
	if err := collect(`DELETE FROM user_roles WHERE expires_at IS NOT NULL AND expires_at < $1 RETURNING user_id`); err != nil {
		return nil, err
	}

	users := make([]uuid.UUID, 0, len(affected))
	for userID := range affected {
		users = append(users, userID)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (*Permission, error) {
	var (
		perm      Permission
		deletedAt pgtype.Timestamptz
	)
	err := row.Scan(&perm.ID, &perm.Slug, &perm.Name, &perm.Description, &perm.Category,
		&perm.ResourceType, &perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		perm.DeletedAt = &t
	}
	return &perm, nil
}

func scanRole(row rowScanner) (*Role, error) {
	var (
		role     Role
		parentID pgtype.UUID
	)
	err := row.Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &role.Level,
		&role.Status, &role.IsSystem, &parentID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if parentID.Valid {
		id := uuid.UUID(parentID.Bytes)
		role.ParentID = &id
	}
	return &role, nil
}

func marshalJSONMap(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func marshalScope(scope map[string]string) ([]byte, error) {
	if len(scope) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(scope)
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
