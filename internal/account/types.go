package account

import (
	"context"
	"fmt"
	"time"

	"tradepost.app/internal/apperr"
	"tradepost.app/internal/auth"
)

// Account is a registered principal of any role. Subscription fields are
// only written by the subscription state machine.
type Account struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Email                 string    `json:"email"`
	PasswordHash          string    `json:"-"`
	Role                  auth.Role `json:"role"`
	SubscriptionActive    bool      `json:"subscription_active"`
	GatewayCustomerID     string    `json:"gateway_customer_id,omitempty"`
	GatewaySubscriptionID string    `json:"gateway_subscription_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Principal returns the identity a token for this account carries.
func (a Account) Principal() auth.Principal {
	return auth.Principal{ID: a.ID, Role: a.Role}
}

// ProfilePatch changes profile fields. Nil fields are left untouched.
type ProfilePatch struct {
	Name         *string
	Email        *string
	PasswordHash *string
}

// SubscriptionPatch sets the subscription flag and, when non-empty, the
// gateway correlation ids.
type SubscriptionPatch struct {
	Active         bool
	CustomerID     string
	SubscriptionID string
}

// Store persists accounts. Email uniqueness is enforced by the store itself
// and surfaced as ErrEmailTaken.
type Store interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	FindAccountByCustomer(ctx context.Context, customerID string) (Account, error)
	ListAccounts(ctx context.Context, role auth.Role) ([]Account, error)
	CountAccountsByRole(ctx context.Context) (map[auth.Role]int, error)
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (Account, error)
	SetSubscription(ctx context.Context, id string, patch SubscriptionPatch) (Account, error)
	SetGatewayCustomer(ctx context.Context, id, customerID string) (Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

var (
	ErrNotFound   = fmt.Errorf("%w: account not found", apperr.ErrNotFound)
	ErrEmailTaken = fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	// ErrCustomerLinked reports a gateway customer id owned by another account.
	ErrCustomerLinked = fmt.Errorf("%w: gateway customer already linked to another account", apperr.ErrConflict)
)
