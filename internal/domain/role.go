package domain

import (
	"fmt"
)

// Role is the platform role of an account at the time it acts on a ticket.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleModerator
	RoleAdmin
	RoleHeadAdmin
)

var roleNames = map[Role]string{
	RoleUser:      "user",
	RoleModerator: "moderator",
	RoleAdmin:     "admin",
	RoleHeadAdmin: "headAdmin",
}

// ParseRole maps the wire name of a role to its value.
func ParseRole(name string) (Role, error) {
	for role, candidate := range roleNames {
		if candidate == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// IsStaff reports whether r is moderator, admin or headAdmin.
func (r Role) IsStaff() bool {
	switch r {
	case RoleModerator, RoleAdmin, RoleHeadAdmin:
		return true
	default:
		return false
	}
}

// CanManageTickets gates status, priority and assignment changes.
func (r Role) CanManageTickets() bool {
	return r.IsStaff()
}

// SeesInternalMessages gates visibility of staff-only notes.
func (r Role) SeesInternalMessages() bool {
	return r.IsStaff()
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", uint8(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
