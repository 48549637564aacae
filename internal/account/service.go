package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradepost.app/internal/apperr"
	"tradepost.app/internal/audit"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/ids"
	"tradepost.app/internal/obs"
)

const (
	minNameLen     = 3
	minPasswordLen = 8
)

// ErrBadCredentials is returned for any login mismatch. Unknown email and
// wrong password are not distinguished.
var ErrBadCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthenticated)

// Session is a freshly minted token for an account.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Account   Account   `json:"account"`
}

// RegisterInput is the public registration request.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ProfileInput updates the caller's own profile. Nil fields are unchanged.
type ProfileInput struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Stats summarises accounts for the admin dashboard.
type Stats struct {
	Total       int               `json:"total"`
	ByRole      map[auth.Role]int `json:"by_role"`
	Subscribers int               `json:"subscribers"`
}

// Service owns registration, login and profile management.
type Service struct {
	store Store
	codec *auth.Codec
}

func NewService(store Store, codec *auth.Codec) *Service {
	return &Service{store: store, codec: codec}
}

// Register creates an account with a self-registrable role and returns a token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	name := strings.TrimSpace(in.Name)
	email, err := normaliseEmail(in.Email)
	if err != nil {
		return Session{}, err
	}
	if err := validateName(name); err != nil {
		return Session{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return Session{}, err
	}
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return Session{}, err
	}
	if !role.SelfRegistrable() {
		return Session{}, fmt.Errorf("%w: role %q cannot be self-registered", apperr.ErrValidation, role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}

	acct, err := s.store.CreateAccount(ctx, Account{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		return Session{}, err
	}
	audit.Record(ctx, "account.registered", acct.ID, zap.String("role", string(acct.Role)))
	return s.issue(acct)
}

// Login checks credentials and mints a token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	acct, err := s.store.FindAccountByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return Session{}, ErrBadCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if acct.PasswordHash == "" || auth.VerifyPassword(acct.PasswordHash, password) != nil {
		return Session{}, ErrBadCredentials
	}
	audit.Record(ctx, "account.login", acct.ID)
	return s.issue(acct)
}

// LoginOAuth signs in the account owning a provider-verified email, creating
// a role=user account on first sign-in.
func (s *Service) LoginOAuth(ctx context.Context, email, name string) (Session, error) {
	email, err := normaliseEmail(email)
	if err != nil {
		return Session{}, err
	}
	acct, err := s.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		if strings.TrimSpace(name) == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		acct, err = s.store.CreateAccount(ctx, Account{
			ID:    ids.New(),
			Name:  strings.TrimSpace(name),
			Email: email,
			Role:  auth.RoleUser,
		})
		if errors.Is(err, apperr.ErrConflict) {
			// Lost a concurrent first sign-in; the winner's row is the account.
			acct, err = s.store.FindAccountByEmail(ctx, email)
		}
		if err == nil {
			audit.Record(ctx, "account.registered", acct.ID, zap.String("role", string(acct.Role)), zap.String("provider", "google"))
		}
	}
	if err != nil {
		return Session{}, err
	}
	audit.Record(ctx, "account.login", acct.ID, zap.String("provider", "google"))
	return s.issue(acct)
}

func (s *Service) Profile(ctx context.Context, id string) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

// UpdateProfile changes the caller's name, email or password.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileInput) (Account, error) {
	var patch ProfilePatch
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateName(name); err != nil {
			return Account{}, err
		}
		patch.Name = &name
	}
	if in.Email != nil {
		email, err := normaliseEmail(*in.Email)
		if err != nil {
			return Account{}, err
		}
		patch.Email = &email
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return Account{}, err
		}
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return Account{}, err
		}
		patch.PasswordHash = &hash
	}
	if patch == (ProfilePatch{}) {
		return Account{}, fmt.Errorf("%w: nothing to update", apperr.ErrValidation)
	}
	acct, err := s.store.UpdateProfile(ctx, id, patch)
	if err != nil {
		return Account{}, err
	}
	audit.Record(ctx, "account.profile_updated", id)
	return acct, nil
}

// List returns accounts, optionally filtered by role.
func (s *Service) List(ctx context.Context, role string) ([]Account, error) {
	var r auth.Role
	if strings.TrimSpace(role) != "" {
		parsed, err := auth.ParseRole(role)
		if err != nil {
			return nil, err
		}
		r = parsed
	}
	return s.store.ListAccounts(ctx, r)
}

// Stats counts accounts per role and active subscribers.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.CountAccountsByRole(ctx)
	if err != nil {
		return Stats{}, err
	}
	all, err := s.store.ListAccounts(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByRole: make(map[auth.Role]int, len(auth.Roles))}
	for _, r := range auth.Roles {
		st.ByRole[r] = counts[r]
		st.Total += counts[r]
	}
	for _, a := range all {
		if a.SubscriptionActive {
			st.Subscribers++
		}
	}
	return st, nil
}

// Delete removes an account. Admins cannot delete themselves.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	if actor.ID == id {
		return fmt.Errorf("%w: cannot delete your own account", apperr.ErrValidation)
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	audit.Record(ctx, "account.deleted", id)
	return nil
}

func (s *Service) issue(acct Account) (Session, error) {
	tok, exp, err := s.codec.Mint(acct.ID, acct.Role)
	if err != nil {
		obs.L().Error("mint token failed", zap.String("account_id", acct.ID), zap.Error(err))
		return Session{}, err
	}
	return Session{Token: tok, ExpiresAt: exp, Account: acct}, nil
}

func normaliseEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("%w: email must be a valid address", apperr.ErrValidation)
	}
	return strings.ToLower(addr.Address), nil
}

func validateName(name string) error {
	if len([]rune(name)) < minNameLen {
		return fmt.Errorf("%w: name must be at least %d characters", apperr.ErrValidation, minNameLen)
	}
	return nil
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLen)
	}
	if len(pw) > auth.MaxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", apperr.ErrValidation, auth.MaxPasswordBytes)
	}
	return nil
}
