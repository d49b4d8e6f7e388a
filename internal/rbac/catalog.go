package rbac

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/glueful/accessd/internal/shared"
)

// Core platform permissions, present in every deployment.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"
	PermPermissionsEdit = "permissions.edit"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
	}
}

var titleCaser = cases.Title(language.English)

// labelFromSlug derives a display label from a dotted slug,
// e.g. "rbac.roles.view" -> "Rbac Roles View".
func labelFromSlug(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, part := range parts {
		parts[i] = titleCaser.String(part)
	}
	return strings.Join(parts, " ")
}

func actorName(ctx context.Context) string {
	if actor := shared.ActorFromContext(ctx); actor != nil {
		return actor.Name
	}
	return ""
}
