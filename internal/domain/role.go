package domain

import "strings"

// Role is a staff role. The zero value is not a valid role; use ParseRole.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleHousekeeper Role = "housekeeper"
	// RoleGuest is the least-privileged role and the fallback for missing or unknown roles.
	RoleGuest Role = "guest"
)

// ParseRole maps a raw role claim to a Role. Anything unrecognized is RoleGuest.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleHousekeeper:
		return RoleHousekeeper
	default:
		return RoleGuest
	}
}

// Permission is a back-office capability.
type Permission string

const (
	PermViewVillas       Permission = "viewVillas"
	PermEditVillas       Permission = "editVillas"
	PermViewReservations Permission = "viewReservations"
	PermEditReservations Permission = "editReservations"
	PermViewTasks        Permission = "viewTasks"
	PermEditTasks        Permission = "editTasks"
	PermSendEmails       Permission = "sendEmails"
	PermManageUsers      Permission = "manageUsers"
)

var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermViewVillas:       true,
		PermEditVillas:       true,
		PermViewReservations: true,
		PermEditReservations: true,
		PermViewTasks:        true,
		PermEditTasks:        true,
		PermSendEmails:       true,
		PermManageUsers:      true,
	},
	RoleHousekeeper: {
		PermViewTasks: true,
	},
}

// Can reports whether the role grants p.
func (r Role) Can(p Permission) bool {
	return rolePermissions[r][p]
}

// RolesWith returns the roles granting p, in a stable order.
func RolesWith(p Permission) []Role {
	var roles []Role
	for _, r := range []Role{RoleAdmin, RoleHousekeeper, RoleGuest} {
		if r.Can(p) {
			roles = append(roles, r)
		}
	}
	return roles
}
