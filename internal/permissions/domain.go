package permissions

import (
	"strings"
	"time"
)

// Permission grants one action on one module.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Module      string    `json:"module"`
	Action      string    `json:"action"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Key returns the conventional module.action name.
func (p Permission) Key() string {
	return Key(p.Module, p.Action)
}

// Key joins a module and an action with the naming convention.
func Key(module, action string) string {
	return module + "." + action
}

// Input carries the writable fields for create and update.
type Input struct {
	Module      string `json:"module" validate:"required,max=64"`
	Action      string `json:"action" validate:"required,max=64"`
	Name        string `json:"name" validate:"max=130"`
	Description string `json:"description" validate:"max=255"`
	Active      *bool  `json:"active"`
}

func (in Input) normalize() Input {
	in.Module = strings.ToLower(strings.TrimSpace(in.Module))
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	in.Description = strings.TrimSpace(in.Description)
	return in
}
