package auth

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/glueful/accessd/internal/shared"
)

// Service wraps API credential checks.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Authenticate validates a key id/secret pair against the stored bcrypt hash.
// Every failure maps to ErrUnauthorized so callers cannot distinguish unknown
// keys from wrong secrets.
func (s *Service) Authenticate(ctx context.Context, keyID, secret string) (*ServiceAccount, error) {
	account, err := s.repo.FindByKeyID(ctx, keyID)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	if !account.IsActive {
		return nil, shared.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.KeyHash), []byte(secret)); err != nil {
		return nil, shared.ErrUnauthorized
	}
	if err := s.repo.TouchLastUsed(ctx, account.ID); err != nil {
		s.logger.Warn("touch last used", slog.Any("error", err))
	}
	return account, nil
}
