package domain

import "slices"

// Seeded role names.
const (
	RoleAdministrator = "ADMINISTRATOR"
	RoleApplication   = "APPLICATION"
	RoleUser          = "USER"
)

// DefaultRole is granted to every account at creation.
const DefaultRole = RoleUser

// Principal is the authenticated caller of an operation.
type Principal struct {
	AccountID int64
	Email     string
	Name      string
	ProjectID int64
	Roles     []string
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// IsAdminGroup reports whether the principal may act on behalf of other
// accounts of its project.
func (p Principal) IsAdminGroup() bool {
	return p.HasRole(RoleAdministrator) || p.HasRole(RoleApplication)
}

// IsSuperUser reports whether the principal administers the root project and
// may therefore target any project.
func (p Principal) IsSuperUser(rootProjectID int64) bool {
	return p.HasRole(RoleAdministrator) && p.ProjectID == rootProjectID
}
