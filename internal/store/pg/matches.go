package pg

import (
	"context"
	"database/sql"
	"errors"

	"tradepost.app/internal/catalog"
	"tradepost.app/internal/match"
)

const matchColumns = `id, listing_id, matcher_account_id, responded_by_owner, created_at`

func scanMatch(row rowScanner) (match.Match, error) {
	var m match.Match
	err := row.Scan(&m.ID, &m.ListingID, &m.MatcherAccountID, &m.RespondedByOwner, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return match.Match{}, match.ErrNotFound
	}
	return m, err
}

func (s *Store) CreateMatch(ctx context.Context, m match.Match) (match.Match, error) {
	created, err := scanMatch(s.db.QueryRowContext(ctx, `
		insert into matches (id, listing_id, matcher_account_id)
		values ($1, $2, $3)
		returning `+matchColumns, m.ID, m.ListingID, m.MatcherAccountID))
	switch {
	case isUniqueViolation(err, "matches_listing_matcher_key"):
		return match.Match{}, match.ErrDuplicate
	case isForeignKeyViolation(err):
		return match.Match{}, catalog.ErrNotFound
	case err != nil:
		return match.Match{}, err
	}
	return created, nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (match.Match, error) {
	return scanMatch(s.db.QueryRowContext(ctx, `select `+matchColumns+` from matches where id = $1`, id))
}

func (s *Store) ListMatchesByListing(ctx context.Context, listingID string) ([]match.Match, error) {
	return s.ListMatchesByListings(ctx, []string{listingID})
}

func (s *Store) ListMatchesByListings(ctx context.Context, listingIDs []string) ([]match.Match, error) {
	if len(listingIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(listingIDs))
	for i, id := range listingIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `select `+matchColumns+` from matches where listing_id in (`+
		placeholders(1, len(args))+`) order by created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []match.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkResponded(ctx context.Context, id string) (match.Match, error) {
	return scanMatch(s.db.QueryRowContext(ctx, `
		update matches set responded_by_owner = true where id = $1
		returning `+matchColumns, id))
}
