// Package rbac answers role and permission questions for the CMS admin
// client. The grant table is static and read-only; evaluation is pure and
// fail-closed: no user, an empty role, or a role missing from the table
// grants nothing.
package rbac

// Role is a CMS user role as reported by the identity API.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
	RoleViewer Role = "viewer"
)

// Permission names an action a role may perform in the admin UI or API.
type Permission string

const (
	PermArticleCreate  Permission = "article:create"
	PermArticleEdit    Permission = "article:edit"
	PermArticleDelete  Permission = "article:delete"
	PermArticlePublish Permission = "article:publish"
	PermCategoryManage Permission = "category:manage"
	PermMediaUpload    Permission = "media:upload"
	PermUserManage     Permission = "user:manage"
	PermSettingsEdit   Permission = "settings:edit"
)

// Subject is anything carrying a role, typically the cached CMS user.
type Subject interface {
	RoleName() string
}

// grants is the static role -> permission table. Never mutated at runtime.
var grants = map[Role][]Permission{
	RoleAdmin: {
		PermArticleCreate, PermArticleEdit, PermArticleDelete, PermArticlePublish,
		PermCategoryManage, PermMediaUpload, PermUserManage, PermSettingsEdit,
	},
	RoleEditor: {
		PermArticleCreate, PermArticleEdit, PermArticleDelete, PermArticlePublish,
		PermCategoryManage, PermMediaUpload,
	},
	RoleAuthor: {
		PermArticleCreate, PermArticleEdit, PermMediaUpload,
	},
	RoleViewer: {},
}

// Valid reports whether r is one of the predefined roles.
func (r Role) Valid() bool {
	_, ok := grants[r]
	return ok
}

// Allowed reports whether role r grants permission p. Roles not present in
// the grant table allow nothing.
func Allowed(r Role, p Permission) bool {
	for _, granted := range grants[r] {
		if granted == p {
			return true
		}
	}
	return false
}

// Permissions returns a copy of the permissions granted to r, in grant
// order. Unknown roles yield nil.
func Permissions(r Role) []Permission {
	perms, ok := grants[r]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Roles returns all predefined roles, most privileged first.
func Roles() []Role {
	return []Role{RoleAdmin, RoleEditor, RoleAuthor, RoleViewer}
}

// HasRole reports whether the subject's role matches any of roles.
// A nil subject never matches.
func HasRole(s Subject, roles ...Role) bool {
	name := roleOf(s)
	if name == "" {
		return false
	}
	for _, r := range roles {
		if Role(name) == r {
			return true
		}
	}
	return false
}

// HasPermission reports whether the subject's role grants p.
// A nil subject holds no permissions.
func HasPermission(s Subject, p Permission) bool {
	name := roleOf(s)
	if name == "" {
		return false
	}
	return Allowed(Role(name), p)
}

func roleOf(s Subject) string {
	if s == nil {
		return ""
	}
	return s.RoleName()
}
