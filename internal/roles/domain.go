package roles

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/psicare/psicare/internal/permissions"
)

// Role is a named bundle of permissions.
type Role struct {
	ID              int64                    `json:"id"`
	Name            string                   `json:"name"`
	Description     string                   `json:"description"`
	Active          bool                     `json:"active"`
	IsSystemDefined bool                     `json:"isSystemDefined"`
	PermissionIDs   []int64                  `json:"permissionIds"`
	Permissions     []permissions.Permission `json:"permissions"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

// Can reports whether the role holds an active permission for module and
// action. Inactive roles hold nothing.
func (r Role) Can(module, action string) bool {
	if !r.Active {
		return false
	}
	module = strings.ToLower(strings.TrimSpace(module))
	action = strings.ToLower(strings.TrimSpace(action))
	for _, p := range r.Permissions {
		if p.Active && p.Module == module && p.Action == action {
			return true
		}
	}
	return false
}

// CreateInput carries the fields accepted when creating a role.
type CreateInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
	Active      *bool  `json:"active"`
}

// UpdateInput replaces every writable field of a role, including its
// permission set.
type UpdateInput struct {
	Name          string  `json:"name" validate:"required,max=64"`
	Description   string  `json:"description" validate:"max=255"`
	Active        bool    `json:"active"`
	PermissionIDs []int64 `json:"permissionIds" validate:"dive,gt=0"`
}

// CanonicalName trims and upper-cases a role name.
func CanonicalName(name string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(name))
}

func permissionIDs(perms []permissions.Permission) []int64 {
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}
