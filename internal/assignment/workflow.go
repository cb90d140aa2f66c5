// Package assignment edits a role's permission set as a working copy that is
// submitted as one full replace.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/roles"
)

// State is the workflow position.
type State string

const (
	StateIdle       State = "idle"
	StateEditing    State = "editing"
	StateSubmitting State = "submitting"
)

// ErrInvalidState rejects an operation the current state does not allow.
var ErrInvalidState = fmt.Errorf("%w: invalid assignment state", httpx.ErrConflict)

// RoleUpdater persists a role with its complete permission set.
type RoleUpdater interface {
	Update(ctx context.Context, id int64, in roles.UpdateInput) (roles.Role, error)
}

// Workflow is the serializable assignment state machine. The zero value is
// Idle.
type Workflow struct {
	State       State   `json:"state"`
	RoleID      int64   `json:"roleId,omitempty"`
	RoleName    string  `json:"roleName,omitempty"`
	Description string  `json:"description,omitempty"`
	Active      bool    `json:"active"`
	Working     []int64 `json:"working"`
	Error       string  `json:"error,omitempty"`
}

func (w *Workflow) state() State {
	if w.State == "" {
		return StateIdle
	}
	return w.State
}

func (w *Workflow) require(want State, op string) error {
	if got := w.state(); got != want {
		return fmt.Errorf("%s while %s: %w", op, got, ErrInvalidState)
	}
	return nil
}

// Begin copies the role's current permission ids into the working set.
func (w *Workflow) Begin(role roles.Role) error {
	if err := w.require(StateIdle, "begin"); err != nil {
		return err
	}
	ids := slices.Clone(role.PermissionIDs)
	slices.Sort(ids)
	*w = Workflow{
		State:       StateEditing,
		RoleID:      role.ID,
		RoleName:    role.Name,
		Description: role.Description,
		Active:      role.Active,
		Working:     slices.Compact(ids),
	}
	return nil
}

// Toggle adds or removes one permission from the working set.
func (w *Workflow) Toggle(permissionID int64) error {
	if err := w.require(StateEditing, "toggle"); err != nil {
		return err
	}
	if permissionID <= 0 {
		return fmt.Errorf("%w: invalid permission id", httpx.ErrValidation)
	}
	if i, found := slices.BinarySearch(w.Working, permissionID); found {
		w.Working = slices.Delete(w.Working, i, i+1)
	} else {
		w.Working = slices.Insert(w.Working, i, permissionID)
	}
	return nil
}

// Replace swaps the whole working set.
func (w *Workflow) Replace(ids []int64) error {
	if err := w.require(StateEditing, "replace"); err != nil {
		return err
	}
	next := slices.Clone(ids)
	slices.Sort(next)
	next = slices.Compact(next)
	if len(next) > 0 && next[0] <= 0 {
		return fmt.Errorf("%w: invalid permission id", httpx.ErrValidation)
	}
	if next == nil {
		next = []int64{}
	}
	w.Working = next
	return nil
}

// Cancel drops the working set.
func (w *Workflow) Cancel() error {
	if err := w.require(StateEditing, "cancel"); err != nil {
		return err
	}
	*w = Workflow{State: StateIdle}
	return nil
}

// Selected reports whether id is in the working set.
func (w *Workflow) Selected(id int64) bool {
	_, found := slices.BinarySearch(w.Working, id)
	return found
}

// Submit sends the sorted working set as a full replace. On failure the
// workflow returns to Editing with the working set and the error kept.
func (w *Workflow) Submit(ctx context.Context, updater RoleUpdater) (roles.Role, error) {
	if err := w.require(StateEditing, "submit"); err != nil {
		return roles.Role{}, err
	}
	if updater == nil {
		return roles.Role{}, errors.New("assignment: role updater required")
	}
	w.State = StateSubmitting
	w.Error = ""
	ids := slices.Clone(w.Working)
	if ids == nil {
		ids = []int64{}
	}
	role, err := updater.Update(ctx, w.RoleID, roles.UpdateInput{
		Name:          w.RoleName,
		Description:   w.Description,
		Active:        w.Active,
		PermissionIDs: ids,
	})
	if err != nil {
		w.State = StateEditing
		w.Error = err.Error()
		return roles.Role{}, err
	}
	*w = Workflow{State: StateIdle}
	return role, nil
}
