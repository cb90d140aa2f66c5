package policy

type actionSet [actionCount]bool

type moduleGrants [moduleCount]actionSet

type menuSet uint16

func allow(actions ...Action) actionSet {
	var set actionSet
	for _, a := range actions {
		set[a] = true
	}
	return set
}

func fullAccess() moduleGrants {
	var grants moduleGrants
	all := allow(Actions()...)
	for _, m := range Modules() {
		grants[m] = all
	}
	return grants
}

func menus(items ...Menu) menuSet {
	var set menuSet
	for _, m := range items {
		set |= 1 << m
	}
	return set
}

// menuTable is the default navigation grant per role.
var menuTable = [roleCount]menuSet{
	RoleAdmin: menus(Menus()...),
	RolePsicologo: menus(
		MenuDashboard,
		MenuPacientes,
		MenuSessoes,
		MenuPagamentos,
		MenuSalas,
		MenuRelatorios,
		MenuCalculadoras,
	),
	RoleFuncionario: menus(
		MenuDashboard,
		MenuPacientes,
		MenuSessoes,
		MenuPagamentos,
		MenuSalas,
	),
}

// actionTable is the default (module, action) grant per role. Unlisted
// modules stay all-false.
var actionTable = [roleCount]moduleGrants{
	RoleAdmin: fullAccess(),
	RolePsicologo: {
		ModulePacientes:    allow(ActionCriar, ActionEditar, ActionDeletar, ActionVisualizar),
		ModuleSessoes:      allow(ActionCriar, ActionEditar, ActionDeletar, ActionVisualizar),
		ModulePagamentos:   allow(ActionCriar, ActionEditar, ActionVisualizar),
		ModuleSalas:        allow(ActionVisualizar),
		ModuleRelatorios:   allow(ActionCriar, ActionVisualizar),
		ModuleCalculadoras: allow(ActionVisualizar),
	},
	RoleFuncionario: {
		ModulePacientes:  allow(ActionCriar, ActionEditar, ActionVisualizar),
		ModuleSessoes:    allow(ActionCriar, ActionEditar, ActionVisualizar),
		ModulePagamentos: allow(ActionCriar, ActionVisualizar),
		ModuleSalas:      allow(ActionCriar, ActionEditar, ActionVisualizar),
	},
}

// TableView is a serialisable rendering of the compiled table.
type TableView struct {
	Roles []RoleView `json:"roles" yaml:"roles"`
}

// RoleView describes the default grants of one role.
type RoleView struct {
	Name    string              `json:"name" yaml:"name"`
	Code    string              `json:"code" yaml:"code"`
	Menus   []string            `json:"menus" yaml:"menus"`
	Actions map[string][]string `json:"actions" yaml:"actions"`
}

// Dump renders the whole default policy table.
func Dump() TableView {
	view := TableView{Roles: make([]RoleView, 0, len(Roles()))}
	for _, r := range Roles() {
		view.Roles = append(view.Roles, Describe(r))
	}
	return view
}

// Describe renders the default grants of a single role. Unknown roles yield
// an empty view.
func Describe(r Role) RoleView {
	rv := RoleView{Name: r.String(), Code: r.Code(), Menus: []string{}, Actions: map[string][]string{}}
	if !r.Valid() {
		return rv
	}
	for _, m := range Menus() {
		if r.CanAccess(m) {
			rv.Menus = append(rv.Menus, m.String())
		}
	}
	for _, m := range Modules() {
		var granted []string
		for _, a := range Actions() {
			if r.Can(m, a) {
				granted = append(granted, a.String())
			}
		}
		if len(granted) > 0 {
			rv.Actions[m.String()] = granted
		}
	}
	return rv
}
