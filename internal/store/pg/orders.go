package pg

import (
	"context"
	"database/sql"
	"errors"

	"tradepost.app/internal/ledger"
)

const orderColumns = `id, session_id, owner_account_id, kind, amount, currency, status, created_at, updated_at`

func scanOrder(row rowScanner) (ledger.Order, error) {
	var (
		o            ledger.Order
		kind, status string
	)
	err := row.Scan(&o.ID, &o.SessionID, &o.OwnerAccountID, &kind, &o.Amount, &o.Currency, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Order{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Order{}, err
	}
	o.Kind, o.Status = ledger.Kind(kind), ledger.Status(status)
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o ledger.Order) (ledger.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into orders (id, session_id, owner_account_id, kind, amount, currency, status)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+orderColumns,
		o.ID, o.SessionID, o.OwnerAccountID, string(o.Kind), o.Amount, o.Currency, string(o.Status))
	created, err := scanOrder(row)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ledger.Order{}, ledger.ErrDuplicateOrder
		}
		return ledger.Order{}, err
	}
	return created, nil
}

func (s *Store) GetOrderBySession(ctx context.Context, sessionID string) (ledger.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `select `+orderColumns+` from orders where session_id = $1`, sessionID))
}

// ResolveOrder only updates rows still PENDING, so concurrent deliveries
// cannot both win and a resolved order never changes again.
func (s *Store) ResolveOrder(ctx context.Context, sessionID string, to ledger.Status) (ledger.Order, bool, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `
		update orders
		set status = $2, updated_at = now()
		where session_id = $1 and status = 'PENDING'
		returning `+orderColumns, sessionID, string(to)))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Order{}, false, err
	}

	cur, err := s.GetOrderBySession(ctx, sessionID)
	if err != nil {
		return ledger.Order{}, false, err
	}
	if cur.Status == to {
		return cur, false, nil
	}
	return cur, false, ledger.ErrAlreadyResolved
}

func (s *Store) ListOrdersByOwner(ctx context.Context, ownerID string) ([]ledger.Order, error) {
	rows, err := s.db.QueryContext(ctx, `select `+orderColumns+` from orders where owner_account_id = $1 order by id desc`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) CountOrdersByStatus(ctx context.Context) (map[ledger.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `select status, count(*) from orders group by status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[ledger.Status]int{ledger.StatusPending: 0, ledger.StatusSuccess: 0, ledger.StatusReject: 0}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[ledger.Status(status)] = n
	}
	return out, rows.Err()
}
