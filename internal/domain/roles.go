package domain

import (
	"errors"
	"strings"
)

// Role is the closed set of authorisation tiers.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superAdmin"
)

// ErrForbidden is returned when a principal lacks the capability for an operation.
var ErrForbidden = errors.New("forbidden")

// ParseRole resolves a role name case-insensitively.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "user":
		return RoleUser, true
	case "admin":
		return RoleAdmin, true
	case "superadmin", "super_admin", "super-admin":
		return RoleSuperAdmin, true
	default:
		return "", false
	}
}

func (r Role) rank() int {
	switch r {
	case RoleSuperAdmin:
		return 3
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r meets the minimum role.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank()
}

// IsAdmin is true for admin and superAdmin.
func IsAdmin(r Role) bool {
	return r.AtLeast(RoleAdmin)
}

// IsSuperAdmin is true only for superAdmin.
func IsSuperAdmin(r Role) bool {
	return r == RoleSuperAdmin
}

// Principal is the caller identity threaded explicitly into service operations.
type Principal struct {
	ID   string
	Role Role
}

// Anonymous reports whether no authenticated identity is present.
func (p Principal) Anonymous() bool {
	return strings.TrimSpace(p.ID) == ""
}

// Owns reports whether the principal is the owner id. Empty owners are never matched.
func (p Principal) Owns(ownerID string) bool {
	ownerID = strings.TrimSpace(ownerID)
	return ownerID != "" && ownerID == strings.TrimSpace(p.ID)
}

// Requirement parameterises a capability check.
type Requirement struct {
	MinRole Role
	// OwnerID, when set, must equal the caller id unless the caller is superAdmin.
	OwnerID *string
}

// Authorize applies the minimum-role and optional ownership checks.
func Authorize(p Principal, req Requirement) error {
	if req.MinRole != "" && !p.Role.AtLeast(req.MinRole) {
		return ErrForbidden
	}
	if req.OwnerID != nil && !IsSuperAdmin(p.Role) && !p.Owns(*req.OwnerID) {
		return ErrForbidden
	}
	return nil
}

// OwnedBy builds an ownership requirement for the given owner id.
func OwnedBy(ownerID string) *string {
	return &ownerID
}
