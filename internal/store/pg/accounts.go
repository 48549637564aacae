package pg

import (
	"context"
	"database/sql"
	"errors"

	"tradepost.app/internal/account"
	"tradepost.app/internal/auth"
)

const accountColumns = `id, name, email, password_hash, role, subscription_active,
	coalesce(gateway_customer_id, ''), coalesce(gateway_subscription_id, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		a    account.Account
		role string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &role, &a.SubscriptionActive,
		&a.GatewayCustomerID, &a.GatewaySubscriptionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}
	a.Role = auth.Role(role)
	return a, nil
}

func accountWriteError(err error) error {
	switch {
	case isUniqueViolation(err, "accounts_email_key"):
		return account.ErrEmailTaken
	case isUniqueViolation(err, "accounts_gateway_customer_key"):
		return account.ErrCustomerLinked
	case errors.Is(err, sql.ErrNoRows):
		return account.ErrNotFound
	}
	return err
}

func (s *Store) CreateAccount(ctx context.Context, a account.Account) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, name, email, password_hash, role, subscription_active, gateway_customer_id)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+accountColumns,
		a.ID, a.Name, a.Email, a.PasswordHash, string(a.Role), a.SubscriptionActive, nullIfEmpty(a.GatewayCustomerID))
	created, err := scanAccount(row)
	if err != nil {
		return account.Account{}, accountWriteError(err)
	}
	return created, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where lower(email) = lower($1)`, email))
}

func (s *Store) FindAccountByCustomer(ctx context.Context, customerID string) (account.Account, error) {
	if customerID == "" {
		return account.Account{}, account.ErrNotFound
	}
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where gateway_customer_id = $1`, customerID))
}

func (s *Store) ListAccounts(ctx context.Context, role auth.Role) ([]account.Account, error) {
	query := `select ` + accountColumns + ` from accounts`
	var args []any
	if role != "" {
		query += ` where role = $1`
		args = append(args, string(role))
	}
	query += ` order by id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountAccountsByRole(ctx context.Context) (map[auth.Role]int, error) {
	rows, err := s.db.QueryContext(ctx, `select role, count(*) from accounts group by role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[auth.Role]int)
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[auth.Role(role)] = n
	}
	return out, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, id string, patch account.ProfilePatch) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set name = coalesce($2, name),
		    email = coalesce($3, email),
		    password_hash = coalesce($4, password_hash),
		    updated_at = now()
		where id = $1
		returning `+accountColumns,
		id, nullString(patch.Name), nullString(patch.Email), nullString(patch.PasswordHash))
	a, err := scanAccount(row)
	if err != nil {
		return account.Account{}, accountWriteError(err)
	}
	return a, nil
}

// SetSubscription is a single-row update; empty correlation ids keep the
// stored values.
func (s *Store) SetSubscription(ctx context.Context, id string, patch account.SubscriptionPatch) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set subscription_active = $2,
		    gateway_customer_id = coalesce($3, gateway_customer_id),
		    gateway_subscription_id = coalesce($4, gateway_subscription_id),
		    updated_at = now()
		where id = $1
		returning `+accountColumns,
		id, patch.Active, nullIfEmpty(patch.CustomerID), nullIfEmpty(patch.SubscriptionID))
	a, err := scanAccount(row)
	if err != nil {
		return account.Account{}, accountWriteError(err)
	}
	return a, nil
}

func (s *Store) SetGatewayCustomer(ctx context.Context, id, customerID string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set gateway_customer_id = $2, updated_at = now()
		where id = $1
		returning `+accountColumns, id, customerID)
	a, err := scanAccount(row)
	if err != nil {
		return account.Account{}, accountWriteError(err)
	}
	return a, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}
