package permissions

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const permissionColumns = `id, slug, name, description, category, resource_type, is_system, created_at, updated_at`

// List returns permissions matching the filters with a total count for
// pagination.
func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Permission, int, error) {
	where := ` WHERE deleted_at IS NULL`
	args := []any{}
	if filters.Category != "" {
		args = append(args, filters.Category)
		where += ` AND category = $` + strconv.Itoa(len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+strings.ToLower(filters.Search)+"%")
		arg := strconv.Itoa(len(args))
		where += ` AND (lower(slug) LIKE $` + arg + ` OR lower(name) LIKE $` + arg + `)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM permissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := `SELECT ` + permissionColumns + ` FROM permissions` + where +
		` ORDER BY slug LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Slug, &perm.Name, &perm.Description, &perm.Category,
			&perm.ResourceType, &perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, 0, err
		}
		perms = append(perms, perm)
	}
	return perms, total, rows.Err()
}

// GetBySlug fetches a permission by slug.
func (r *PGRepository) GetBySlug(ctx context.Context, slug string) (*Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE slug = $1 AND deleted_at IS NULL`, slug).
		Scan(&perm.ID, &perm.Slug, &perm.Name, &perm.Description, &perm.Category,
			&perm.ResourceType, &perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &perm, nil
}

// Upsert inserts a permission or refreshes its metadata when the slug exists.
func (r *PGRepository) Upsert(ctx context.Context, input CreateInput) (*Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (id, slug, name, description, category, resource_type, is_system, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, false, now(), now())
		ON CONFLICT (slug) WHERE deleted_at IS NULL
		DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
			category = EXCLUDED.category, resource_type = EXCLUDED.resource_type, updated_at = now()
		RETURNING `+permissionColumns,
		input.Slug, input.Name, input.Description, input.Category, input.ResourceType).
		Scan(&perm.ID, &perm.Slug, &perm.Name, &perm.Description, &perm.Category,
			&perm.ResourceType, &perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

// SoftDelete marks the permission deleted.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE permissions SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
