package rbac

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ResourceWildcard matches every resource.
const ResourceWildcard = "*"

// Role status values.
const (
	RoleStatusActive   = "active"
	RoleStatusInactive = "inactive"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrHierarchyCycle indicates a cyclic parent chain in the role hierarchy.
	ErrHierarchyCycle = errors.New("rbac: role hierarchy cycle")
	// ErrMaxDepthExceeded indicates the role hierarchy is deeper than configured.
	ErrMaxDepthExceeded = errors.New("rbac: max hierarchy depth exceeded")
	// ErrInvalidConstraints indicates a malformed constraints object on a grant.
	ErrInvalidConstraints = errors.New("rbac: invalid constraints")
	// ErrSystemProtected indicates an attempt to delete a system role or permission.
	ErrSystemProtected = errors.New("rbac: system record is protected")
)

// Permission is an atomic named capability.
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
	DeletedAt    *time.Time
}

// Role is a named bundle of permissions with an optional parent.
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

// Active reports whether the role participates in evaluation.
func (r Role) Active() bool {
	return r.Status == RoleStatusActive
}

// UserRole assigns a role to a user, optionally narrowed by scope and expiry.
type UserRole struct {
	UserID     uuid.UUID
	RoleID     uuid.UUID
	Scope      map[string]string
	ExpiresAt  *time.Time
	AssignedBy string
	CreatedAt  time.Time
}

// Expired reports whether the assignment has lapsed at the given instant.
func (ur UserRole) Expired(now time.Time) bool {
	return ur.ExpiresAt != nil && ur.ExpiresAt.Before(now)
}

// MatchesScope reports whether the assignment applies under the requested
// scope. An assignment without scope applies everywhere; otherwise every
// requested key must equal the stored value.
func (ur UserRole) MatchesScope(scope map[string]string) bool {
	if len(ur.Scope) == 0 {
		return true
	}
	for key, want := range scope {
		if got, ok := ur.Scope[key]; !ok || got != want {
			return false
		}
	}
	return true
}

// UserPermission is a direct grant to a user, bypassing roles.
type UserPermission struct {
	UserID       uuid.UUID
	PermissionID uuid.UUID
	Slug         string
	Resource     string
	Constraints  map[string]any
	ExpiresAt    *time.Time
	GrantedBy    string
	CreatedAt    time.Time
}

// Expired reports whether the grant has lapsed at the given instant.
func (up UserPermission) Expired(now time.Time) bool {
	return up.ExpiresAt != nil && up.ExpiresAt.Before(now)
}

// RolePermission attaches a permission to a role for a resource.
type RolePermission struct {
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	Slug         string
	Resource     string
	CreatedAt    time.Time
}

// GrantOptions carries optional attributes for a direct permission grant.
type GrantOptions struct {
	GrantedBy   string
	ExpiresAt   *time.Time
	Constraints map[string]any
}

// RoleAssignOptions carries optional attributes for a role assignment.
type RoleAssignOptions struct {
	Scope      map[string]string
	ExpiresAt  *time.Time
	AssignedBy string
}

// BatchGrant is one item of a batch assign request.
type BatchGrant struct {
	Permission string
	Resource   string
	Options    GrantOptions
}

// BatchRevocation is one item of a batch revoke request.
type BatchRevocation struct {
	Permission string
	Resource   string
}

// BatchOutcome reports the per-item result of a batch mutation. Batches are
// best-effort: a failed item does not roll back the ones before it.
type BatchOutcome struct {
	Permission string
	Resource   string
	Err        error
}

// HealthStatus summarizes dependency health for the engine.
type HealthStatus struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

func resourceMatches(granted, requested string) bool {
	if granted == "" || granted == ResourceWildcard {
		return true
	}
	if requested == "" {
		requested = ResourceWildcard
	}
	return granted == requested
}
