package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tradepost.app/internal/account"
	"tradepost.app/internal/catalog"
)

// Reactions are folded into comma-joined columns so one query returns a
// complete listing. Account ids are ULIDs and never contain commas.
const listingSelect = `
	select l.id, l.kind, l.owner_id, l.title, l.content, l.price, l.genre, l.year, l.poster,
	       l.created_at, l.updated_at,
	       coalesce((select string_agg(r.account_id, ',' order by r.created_at)
	                 from listing_reactions r where r.listing_id = l.id and r.reaction = 'like'), ''),
	       coalesce((select string_agg(r.account_id, ',' order by r.created_at)
	                 from listing_reactions r where r.listing_id = l.id and r.reaction = 'dislike'), '')
	from listings l`

func scanListing(row rowScanner) (catalog.Listing, error) {
	var (
		l               catalog.Listing
		kind            string
		likes, dislikes string
	)
	err := row.Scan(&l.ID, &kind, &l.OwnerID, &l.Title, &l.Content, &l.Price, &l.Genre, &l.Year, &l.Poster,
		&l.CreatedAt, &l.UpdatedAt, &likes, &dislikes)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Listing{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Listing{}, err
	}
	l.Kind = catalog.Kind(kind)
	l.Likes = splitIDs(likes)
	l.Dislikes = splitIDs(dislikes)
	return l, nil
}

func (s *Store) CreateListing(ctx context.Context, l catalog.Listing) (catalog.Listing, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into listings (id, kind, owner_id, title, content, price, genre, year, poster)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, string(l.Kind), l.OwnerID, l.Title, l.Content, l.Price, l.Genre, l.Year, l.Poster)
	if err != nil {
		if isForeignKeyViolation(err) {
			return catalog.Listing{}, account.ErrNotFound
		}
		return catalog.Listing{}, err
	}
	return s.GetListing(ctx, l.ID)
}

func (s *Store) GetListing(ctx context.Context, id string) (catalog.Listing, error) {
	return scanListing(s.db.QueryRowContext(ctx, listingSelect+` where l.id = $1`, id))
}

func (s *Store) ListListings(ctx context.Context, f catalog.Filter) ([]catalog.Listing, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != "" {
		add("l.kind = $%d", string(f.Kind))
	}
	if f.Genre != "" {
		add("l.genre = $%d", f.Genre)
	}
	if f.Year != 0 {
		add("l.year = $%d", f.Year)
	}
	if f.OwnerID != "" {
		add("l.owner_id = $%d", f.OwnerID)
	}
	query := listingSelect
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by l.id desc"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]catalog.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) UpdateListing(ctx context.Context, l catalog.Listing) (catalog.Listing, error) {
	res, err := s.db.ExecContext(ctx, `
		update listings
		set title = $2, content = $3, price = $4, genre = $5, year = $6, poster = $7, updated_at = now()
		where id = $1`,
		l.ID, l.Title, l.Content, l.Price, l.Genre, l.Year, l.Poster)
	if err != nil {
		return catalog.Listing{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return catalog.Listing{}, err
	} else if n == 0 {
		return catalog.Listing{}, catalog.ErrNotFound
	}
	return s.GetListing(ctx, l.ID)
}

func (s *Store) DeleteListing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from listings where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// SetReaction replaces accountID's reaction; ReactionNone removes it.
func (s *Store) SetReaction(ctx context.Context, listingID, accountID string, r catalog.Reaction) (catalog.Listing, error) {
	var err error
	if r == catalog.ReactionNone {
		_, err = s.db.ExecContext(ctx, `delete from listing_reactions where listing_id = $1 and account_id = $2`, listingID, accountID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			insert into listing_reactions (listing_id, account_id, reaction)
			values ($1, $2, $3)
			on conflict (listing_id, account_id) do update set reaction = excluded.reaction, created_at = now()`,
			listingID, accountID, string(r))
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return catalog.Listing{}, catalog.ErrNotFound
		}
		return catalog.Listing{}, err
	}
	return s.GetListing(ctx, listingID)
}

func (s *Store) CountListingsByKind(ctx context.Context) (map[catalog.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `select kind, count(*) from listings group by kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[catalog.Kind]int{catalog.KindProduct: 0, catalog.KindFilm: 0}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[catalog.Kind(kind)] = n
	}
	return out, rows.Err()
}
