package auth

import (
	"time"

	"github.com/google/uuid"
)

// ServiceAccount represents an API client allowed to call the admin surface.
type ServiceAccount struct {
	ID         uuid.UUID
	Name       string
	KeyID      string
	KeyHash    string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
