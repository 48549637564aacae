package auth

// Capability names one class of action gated by role.
type Capability string

const (
	CapAdmin            Capability = "admin"
	CapCreateProduct    Capability = "listing.product.create"
	CapCreateFilm       Capability = "listing.film.create"
	CapManageOwnListing Capability = "listing.own.manage"
	CapMatch            Capability = "match.create"
	CapCheckout         Capability = "payment.checkout"
)

type capabilitySet map[Capability]struct{}

func set(caps ...Capability) capabilitySet {
	s := make(capabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// capabilities is the single role -> capability table. Roles missing from the
// table hold nothing.
var capabilities = map[Role]capabilitySet{
	RoleBuyer:    set(CapMatch, CapCheckout),
	RoleSeller:   set(CapCreateProduct, CapManageOwnListing, CapMatch, CapCheckout),
	RoleUser:     set(CapCreateProduct, CapManageOwnListing, CapMatch, CapCheckout),
	RoleDirector: set(CapCreateFilm, CapManageOwnListing, CapMatch, CapCheckout),
	RoleAdmin: set(CapAdmin, CapCreateProduct, CapCreateFilm, CapManageOwnListing,
		CapMatch, CapCheckout),
}
