package catalog

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradepost.app/internal/apperr"
	"tradepost.app/internal/audit"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/ids"
)

const (
	minTitleLen   = 3
	minContentLen = 10
	minFilmYear   = 1900

	DefaultLimit = 50
	MaxLimit     = 200
)

// Input carries the client-editable fields of a listing.
type Input struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Price   *int64 `json:"price,omitempty"`
	Genre   string `json:"genre,omitempty"`
	Year    int    `json:"year,omitempty"`
	Poster  string `json:"poster,omitempty"`
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func requiredCapability(k Kind) auth.Capability {
	if k == KindFilm {
		return auth.CapCreateFilm
	}
	return auth.CapCreateProduct
}

// Create validates in and stores a listing owned by p.
func (s *Service) Create(ctx context.Context, p auth.Principal, in Input) (Listing, error) {
	if !in.Kind.Valid() {
		return Listing{}, fmt.Errorf("%w: kind must be product or film", apperr.ErrValidation)
	}
	if err := auth.Authorize(p, requiredCapability(in.Kind)); err != nil {
		return Listing{}, err
	}
	l, err := s.build(in)
	if err != nil {
		return Listing{}, err
	}
	l.ID = ids.New()
	l.OwnerID = p.ID
	created, err := s.store.CreateListing(ctx, l)
	if err != nil {
		return Listing{}, err
	}
	audit.Record(ctx, "listing.created", created.ID, zap.String("kind", string(created.Kind)))
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (Listing, error) {
	if !ids.Valid(id) {
		return Listing{}, fmt.Errorf("%w: malformed listing id", apperr.ErrValidation)
	}
	return s.store.GetListing(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Listing, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", apperr.ErrValidation, f.Kind)
	}
	if f.Genre != "" && !slices.Contains(Genres, f.Genre) {
		return nil, fmt.Errorf("%w: unknown genre %q", apperr.ErrValidation, f.Genre)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return s.store.ListListings(ctx, f)
}

// Update replaces the editable fields. The listing kind never changes.
func (s *Service) Update(ctx context.Context, p auth.Principal, id string, in Input) (Listing, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if err := auth.AuthorizeOwner(p, cur.OwnerID); err != nil {
		return Listing{}, err
	}
	in.Kind = cur.Kind
	next, err := s.build(in)
	if err != nil {
		return Listing{}, err
	}
	next.ID, next.OwnerID = cur.ID, cur.OwnerID
	updated, err := s.store.UpdateListing(ctx, next)
	if err != nil {
		return Listing{}, err
	}
	audit.Record(ctx, "listing.updated", id)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.AuthorizeOwner(p, cur.OwnerID); err != nil {
		return err
	}
	if err := s.store.DeleteListing(ctx, id); err != nil {
		return err
	}
	audit.Record(ctx, "listing.deleted", id)
	return nil
}

// React toggles p's like or dislike. Repeating the current reaction clears
// it; switching replaces it.
func (s *Service) React(ctx context.Context, p auth.Principal, id string, r Reaction) (Listing, error) {
	if r != ReactionLike && r != ReactionDislike {
		return Listing{}, fmt.Errorf("%w: reaction must be like or dislike", apperr.ErrValidation)
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	next := r
	if cur.ReactionOf(p.ID) == r {
		next = ReactionNone
	}
	return s.store.SetReaction(ctx, id, p.ID, next)
}

// Counts returns listing totals per kind.
func (s *Service) Counts(ctx context.Context) (map[Kind]int, error) {
	return s.store.CountListingsByKind(ctx)
}

func (s *Service) build(in Input) (Listing, error) {
	l := Listing{
		Kind:    in.Kind,
		Title:   strings.TrimSpace(in.Title),
		Content: strings.TrimSpace(in.Content),
		Poster:  strings.TrimSpace(in.Poster),
	}
	if len([]rune(l.Title)) < minTitleLen {
		return Listing{}, fmt.Errorf("%w: title must be at least %d characters", apperr.ErrValidation, minTitleLen)
	}
	if len([]rune(l.Content)) < minContentLen {
		return Listing{}, fmt.Errorf("%w: content must be at least %d characters", apperr.ErrValidation, minContentLen)
	}
	if l.Poster != "" {
		u, err := url.Parse(l.Poster)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Listing{}, fmt.Errorf("%w: poster must be an http(s) url", apperr.ErrValidation)
		}
	}
	switch in.Kind {
	case KindProduct:
		if in.Price == nil || *in.Price < 0 {
			return Listing{}, fmt.Errorf("%w: price must be zero or more", apperr.ErrValidation)
		}
		l.Price = *in.Price
	case KindFilm:
		genre := strings.ToLower(strings.TrimSpace(in.Genre))
		if !slices.Contains(Genres, genre) {
			return Listing{}, fmt.Errorf("%w: genre must be one of %s", apperr.ErrValidation, strings.Join(Genres, ", "))
		}
		if in.Year < minFilmYear || in.Year > s.now().Year() {
			return Listing{}, fmt.Errorf("%w: year must be between %d and %d", apperr.ErrValidation, minFilmYear, s.now().Year())
		}
		l.Genre, l.Year = genre, in.Year
	}
	return l, nil
}
