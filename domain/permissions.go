package domain

// IsOwner reports whether phone owns the board.
func (b Board) IsOwner(phone string) bool {
	return phone != "" && phone == b.OwnerPhoneNumber
}

// RoleOf returns the role granted to phone, if any. The owner's own entry,
// when present, is reported like any other.
func (b Board) RoleOf(phone string) (RoleKind, bool) {
	for _, r := range b.Roles {
		if r.UserPhoneNumber == phone {
			return r.Role, true
		}
	}
	return "", false
}

// CanEdit applies the board permission rule: the owner can always edit,
// regardless of any role entry; anyone else needs an editor grant.
// The result is advisory; the backend is responsible for enforcement.
func (b Board) CanEdit(phone string) bool {
	if phone == "" {
		return false
	}
	if b.IsOwner(phone) {
		return true
	}
	role, ok := b.RoleOf(phone)
	return ok && role == RoleEditor
}

// CanView reports whether phone owns the board or holds any grant on it.
func (b Board) CanView(phone string) bool {
	if b.IsOwner(phone) {
		return true
	}
	_, ok := b.RoleOf(phone)
	return ok
}

// SharedWith lists the role grants of everyone except the owner.
func (b Board) SharedWith() []Role {
	out := make([]Role, 0, len(b.Roles))
	for _, r := range b.Roles {
		if r.UserPhoneNumber == b.OwnerPhoneNumber {
			continue
		}
		out = append(out, r)
	}
	return out
}
