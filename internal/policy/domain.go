// Package policy holds the compiled default authorization table and the pure
// lookup functions consulted on every navigation render and protected action.
package policy

import "strings"

// Role is a canonical role known to the default policy table.
type Role uint8

// Canonical roles. RoleUnknown is denied everything.
const (
	RoleUnknown Role = iota
	RoleAdmin
	RolePsicologo
	RoleFuncionario
	roleCount
)

var roleNames = [roleCount]string{
	RoleAdmin:       "ADMIN",
	RolePsicologo:   "PSICOLOGO",
	RoleFuncionario: "FUNCIONARIO",
}

// legacy numeric identifiers still carried by older sessions.
var roleCodes = [roleCount]string{
	RoleAdmin:       "1",
	RolePsicologo:   "2",
	RoleFuncionario: "3",
}

// String returns the canonical upper-case name, or "" for RoleUnknown.
func (r Role) String() string {
	if !r.Valid() {
		return ""
	}
	return roleNames[r]
}

// Code returns the legacy numeric identifier of the role.
func (r Role) Code() string {
	if !r.Valid() {
		return ""
	}
	return roleCodes[r]
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	return r > RoleUnknown && r < roleCount
}

// Roles lists every canonical role in table order.
func Roles() []Role {
	return []Role{RoleAdmin, RolePsicologo, RoleFuncionario}
}

// ParseRole resolves a raw identifier, numeric or named, into a Role.
// Numeric codes tolerate surrounding whitespace; names must match the
// canonical spelling exactly.
func ParseRole(raw string) Role {
	code := strings.TrimSpace(raw)
	if code == "" {
		return RoleUnknown
	}
	for r := RoleAdmin; r < roleCount; r++ {
		if code == roleCodes[r] || raw == roleNames[r] {
			return r
		}
	}
	return RoleUnknown
}

// Module is a coarse functional area, the first key of an action check.
type Module uint8

// Modules of the clinic.
const (
	ModuleUnknown Module = iota
	ModulePacientes
	ModuleSessoes
	ModulePagamentos
	ModuleSalas
	ModuleRelatorios
	ModuleCalculadoras
	ModuleUsuarios
	ModulePerfis
	ModulePermissoes
	moduleCount
)

var moduleNames = [moduleCount]string{
	ModulePacientes:    "pacientes",
	ModuleSessoes:      "sessoes",
	ModulePagamentos:   "pagamentos",
	ModuleSalas:        "salas",
	ModuleRelatorios:   "relatorios",
	ModuleCalculadoras: "calculadoras",
	ModuleUsuarios:     "usuarios",
	ModulePerfis:       "perfis",
	ModulePermissoes:   "permissoes",
}

func (m Module) String() string {
	if !m.Valid() {
		return ""
	}
	return moduleNames[m]
}

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	return m > ModuleUnknown && m < moduleCount
}

// Modules lists every known module.
func Modules() []Module {
	out := make([]Module, 0, moduleCount-1)
	for m := ModulePacientes; m < moduleCount; m++ {
		out = append(out, m)
	}
	return out
}

// ParseModule looks up a module key. Keys are case-insensitive.
func ParseModule(raw string) (Module, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for m := ModulePacientes; m < moduleCount; m++ {
		if moduleNames[m] == value {
			return m, true
		}
	}
	return ModuleUnknown, false
}

// Action is a verb within a module, the second key of an action check.
type Action uint8

// Actions available on every module.
const (
	ActionUnknown Action = iota
	ActionCriar
	ActionEditar
	ActionDeletar
	ActionVisualizar
	actionCount
)

var actionNames = [actionCount]string{
	ActionCriar:      "criar",
	ActionEditar:     "editar",
	ActionDeletar:    "deletar",
	ActionVisualizar: "visualizar",
}

func (a Action) String() string {
	if !a.Valid() {
		return ""
	}
	return actionNames[a]
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a > ActionUnknown && a < actionCount
}

// Actions lists every known action.
func Actions() []Action {
	return []Action{ActionCriar, ActionEditar, ActionDeletar, ActionVisualizar}
}

// ParseAction looks up an action key. Keys are case-insensitive.
func ParseAction(raw string) (Action, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for a := ActionCriar; a < actionCount; a++ {
		if actionNames[a] == value {
			return a, true
		}
	}
	return ActionUnknown, false
}

// Menu is a navigation entry key.
type Menu uint8

// Navigation entries.
const (
	MenuUnknown Menu = iota
	MenuDashboard
	MenuPacientes
	MenuSessoes
	MenuPagamentos
	MenuSalas
	MenuRelatorios
	MenuCalculadoras
	MenuUsuarios
	MenuPerfis
	MenuPermissoes
	menuCount
)

var menuNames = [menuCount]string{
	MenuDashboard:    "dashboard",
	MenuPacientes:    "pacientes",
	MenuSessoes:      "sessoes",
	MenuPagamentos:   "pagamentos",
	MenuSalas:        "salas",
	MenuRelatorios:   "relatorios",
	MenuCalculadoras: "calculadoras",
	MenuUsuarios:     "usuarios",
	MenuPerfis:       "perfis",
	MenuPermissoes:   "permissoes",
}

func (m Menu) String() string {
	if !m.Valid() {
		return ""
	}
	return menuNames[m]
}

// Valid reports whether m is a known menu key.
func (m Menu) Valid() bool {
	return m > MenuUnknown && m < menuCount
}

// Menus lists every known menu key in navigation order.
func Menus() []Menu {
	out := make([]Menu, 0, menuCount-1)
	for m := MenuDashboard; m < menuCount; m++ {
		out = append(out, m)
	}
	return out
}

// ParseMenu looks up a menu key. Keys are case-insensitive.
func ParseMenu(raw string) (Menu, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for m := MenuDashboard; m < menuCount; m++ {
		if menuNames[m] == value {
			return m, true
		}
	}
	return MenuUnknown, false
}
