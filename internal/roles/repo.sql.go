package roles

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	platformdb "github.com/glueful/accessd/internal/platform/db"
	"github.com/glueful/accessd/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const roleColumns = `id, slug, name, description, level, status, is_system, parent_id, created_at, updated_at`

// List returns roles matching the filters, ordered by level then slug.
func (r *PGRepository) List(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE deleted_at IS NULL`
	args := []any{}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += ` AND status = $1`
	}
	if filters.Search != "" {
		args = append(args, "%"+strings.ToLower(filters.Search)+"%")
		arg := strconv.Itoa(len(args))
		query += ` AND (lower(slug) LIKE $` + arg + ` OR lower(name) LIKE $` + arg + `)`
	}
	query += ` ORDER BY level, slug`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetBySlug fetches a role by slug.
func (r *PGRepository) GetBySlug(ctx context.Context, slug string) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE slug = $1 AND deleted_at IS NULL`, slug)
	return scanRole(row)
}

// GetByID fetches a role by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanRole(row)
}

// Children returns the direct children of a role.
func (r *PGRepository) Children(ctx context.Context, id uuid.UUID) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE parent_id = $1 AND deleted_at IS NULL ORDER BY slug`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, *role)
	}
	return children, rows.Err()
}

// Create inserts a new role. A slug already held by a live role surfaces as
// shared.ErrConflict.
func (r *PGRepository) Create(ctx context.Context, role Role) (*Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (id, slug, name, description, level, status, is_system, parent_id, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, false, $6, now(), now())
		RETURNING `+roleColumns,
		role.Slug, role.Name, role.Description, role.Level, role.Status, uuidOrNull(role.ParentID))
	created, err := scanRole(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

// Update changes mutable attributes of a role.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, input UpdateRoleInput) (*Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, status = $4, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+roleColumns,
		id, input.Name, input.Description, input.Status)
	return scanRole(row)
}

// SetParent changes the role's parent pointer. Cycle and depth validation
// happen in the service before this is called.
func (r *PGRepository) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles SET parent_id = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, uuidOrNull(parentID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SoftDelete marks the role deleted. The second return value reports whether
// a live row existed.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplacePermissions swaps the role's permission set atomically.
func (r *PGRepository) ReplacePermissions(ctx context.Context, roleID uuid.UUID, grants []PermissionGrant) error {
	return platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, grant := range grants {
			resource := grant.Resource
			if resource == "" {
				resource = "*"
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id, resource, created_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (role_id, permission_id, resource) DO NOTHING`,
				roleID, grant.PermissionID, resource); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanRole(row pgx.Row) (*Role, error) {
	var (
		role     Role
		parentID pgtype.UUID
	)
	err := row.Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &role.Level,
		&role.Status, &role.IsSystem, &parentID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if parentID.Valid {
		id := uuid.UUID(parentID.Bytes)
		role.ParentID = &id
	}
	return &role, nil
}

func uuidOrNull(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}
