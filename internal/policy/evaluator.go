package policy

// Can reports whether the default table grants action on module to r.
func (r Role) Can(m Module, a Action) bool {
	if !r.Valid() || !m.Valid() || !a.Valid() {
		return false
	}
	return actionTable[r][m][a]
}

// CanAccess reports whether the default table shows menu m to r.
func (r Role) CanAccess(m Menu) bool {
	if !r.Valid() || !m.Valid() {
		return false
	}
	return menuTable[r]&(1<<m) != 0
}

// NormalizeRoleIdentifier maps legacy numeric codes to canonical names.
// Canonical names are returned in canonical case; anything else is returned
// unchanged.
func NormalizeRoleIdentifier(raw string) string {
	if r := ParseRole(raw); r.Valid() {
		return r.String()
	}
	return raw
}

// CanAccessMenu reports whether the role identified by roleIdentifier may see
// menuKey. Unknown roles and unknown menu keys are denied.
func CanAccessMenu(roleIdentifier, menuKey string) bool {
	menu, ok := ParseMenu(menuKey)
	if !ok {
		return false
	}
	return ParseRole(roleIdentifier).CanAccess(menu)
}

// CanDoAction reports whether the role identified by roleIdentifier may run
// action on module. A missing role, module or action is denied.
func CanDoAction(roleIdentifier, module, action string) bool {
	m, ok := ParseModule(module)
	if !ok {
		return false
	}
	a, ok := ParseAction(action)
	if !ok {
		return false
	}
	return ParseRole(roleIdentifier).Can(m, a)
}

// IsAdmin accepts either "1" or "ADMIN".
func IsAdmin(roleIdentifier string) bool {
	return ParseRole(roleIdentifier) == RoleAdmin
}

// IsPsicologo accepts either "2" or "PSICOLOGO".
func IsPsicologo(roleIdentifier string) bool {
	return ParseRole(roleIdentifier) == RolePsicologo
}

// IsFuncionario accepts either "3" or "FUNCIONARIO".
func IsFuncionario(roleIdentifier string) bool {
	return ParseRole(roleIdentifier) == RoleFuncionario
}
