package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glueful/accessd/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByKeyID(ctx context.Context, keyID string) (*ServiceAccount, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// FindByKeyID fetches a service account by its public key identifier.
func (r *PGRepository) FindByKeyID(ctx context.Context, keyID string) (*ServiceAccount, error) {
	var (
		account    ServiceAccount
		lastUsedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, key_id, key_hash, is_active, created_at, last_used_at
		FROM service_accounts WHERE key_id = $1`, keyID).
		Scan(&account.ID, &account.Name, &account.KeyID, &account.KeyHash,
			&account.IsActive, &account.CreatedAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		account.LastUsedAt = &t
	}
	return &account, nil
}

// TouchLastUsed records when the account last authenticated successfully.
func (r *PGRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE service_accounts SET last_used_at = now() WHERE id = $1`, id)
	return err
}
