package auth

import (
	"fmt"
	"strings"

	"tradepost.app/internal/apperr"
)

// Role identifies the kind of account a principal acts as.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSeller   Role = "seller"
	RoleUser     Role = "user"
	RoleDirector Role = "director"
	RoleAdmin    Role = "admin"
)

// Roles lists every recognised role.
var Roles = []Role{RoleBuyer, RoleSeller, RoleUser, RoleDirector, RoleAdmin}

// ParseRole normalises s and rejects anything outside Roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, s)
	}
	return r, nil
}

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleUser, RoleDirector, RoleAdmin:
		return true
	}
	return false
}

// SelfRegistrable reports whether an account with role r may be created
// through public registration. Admins are provisioned out of band.
func (r Role) SelfRegistrable() bool {
	return r.Valid() && r != RoleAdmin
}

// Principal is the identity resolved from a verified token for one request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Can reports whether the principal holds capability c.
func (p Principal) Can(c Capability) bool {
	if p.ID == "" || !p.Role.Valid() {
		return false
	}
	_, ok := capabilities[p.Role][c]
	return ok
}

// Authorize returns nil when p holds c, or an ErrForbidden-wrapped error.
func Authorize(p Principal, c Capability) error {
	if p.Can(c) {
		return nil
	}
	return fmt.Errorf("%w: %s required", apperr.ErrForbidden, c)
}

// AuthorizeOwner allows only the owner of a resource. The resource must have
// been loaded first so a missing resource is reported as not found instead.
func AuthorizeOwner(p Principal, ownerID string) error {
	if !p.Can(CapManageOwnListing) {
		return fmt.Errorf("%w: %s required", apperr.ErrForbidden, CapManageOwnListing)
	}
	if ownerID == "" || p.ID != ownerID {
		return fmt.Errorf("%w: not the owner of this resource", apperr.ErrForbidden)
	}
	return nil
}
