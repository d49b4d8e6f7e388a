package roles

import (
	"time"

	"github.com/google/uuid"
)

// Role is the administrative view of a role catalog record.
type Role struct {
	ID          uuid.UUID
	Slug        string
	Name        string
	Description string
	Level       int
	Status      string
	IsSystem    bool
	ParentID    *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleListFilters narrow role listings.
type RoleListFilters struct {
	Status string
	Search string
}

// CreateRoleInput carries attributes for a new role.
type CreateRoleInput struct {
	Slug        string
	Name        string
	Description string
	Level       int
	ParentSlug  string
}

// UpdateRoleInput carries mutable role attributes.
type UpdateRoleInput struct {
	Name        string
	Description string
	Status      string
}
