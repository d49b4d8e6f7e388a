package permissions

import (
	"time"

	"github.com/google/uuid"
)

// Permission is the administrative view of a catalog record.
type Permission struct {
	ID           uuid.UUID
	Slug         string
	Name         string
	Description  string
	Category     string
	ResourceType string
	IsSystem     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListFilters narrow permission listings.
type ListFilters struct {
	Category string
	Search   string
	Page     int
	PerPage  int
}

// CreateInput carries attributes for a new permission.
type CreateInput struct {
	Slug         string
	Name         string
	Description  string
	Category     string
	ResourceType string
}
