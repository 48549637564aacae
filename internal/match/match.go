// Package match records one-directional interest of an account in a listing.
// Listing owners see who matched only while their subscription is active.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradepost.app/internal/account"
	"tradepost.app/internal/apperr"
	"tradepost.app/internal/audit"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/catalog"
	"tradepost.app/internal/ids"
)

type Match struct {
	ID               string    `json:"id"`
	ListingID        string    `json:"listing_id"`
	MatcherAccountID string    `json:"matcher_account_id"`
	RespondedByOwner bool      `json:"responded_by_owner"`
	CreatedAt        time.Time `json:"created_at"`
}

// Listing is the owner-visible view. Matches is nil unless the owner is
// subscribed. A nil Matches is left out of JSON; an empty one is encoded as [].
type Listing struct {
	Count   int     `json:"count"`
	Matches []Match `json:"matches"`
}

func (l Listing) MarshalJSON() ([]byte, error) {
	if l.Matches == nil {
		return json.Marshal(struct {
			Count int `json:"count"`
		}{l.Count})
	}
	type full Listing
	return json.Marshal(full(l))
}

// Store persists matches. CreateMatch enforces uniqueness of
// (listing, matcher) and returns ErrDuplicate on violation.
type Store interface {
	CreateMatch(ctx context.Context, m Match) (Match, error)
	GetMatch(ctx context.Context, id string) (Match, error)
	ListMatchesByListing(ctx context.Context, listingID string) ([]Match, error)
	ListMatchesByListings(ctx context.Context, listingIDs []string) ([]Match, error)
	MarkResponded(ctx context.Context, id string) (Match, error)
}

// Listings resolves a listing and its owner.
type Listings interface {
	GetListing(ctx context.Context, id string) (catalog.Listing, error)
	ListListings(ctx context.Context, f catalog.Filter) ([]catalog.Listing, error)
}

// Accounts resolves the listing owner's subscription state.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (account.Account, error)
}

var (
	ErrDuplicate = fmt.Errorf("%w: already matched this listing", apperr.ErrConflict)
	ErrNotFound  = fmt.Errorf("%w: match not found", apperr.ErrNotFound)
)

type Registry struct {
	store    Store
	listings Listings
	accounts Accounts
}

func NewRegistry(store Store, listings Listings, accounts Accounts) *Registry {
	return &Registry{store: store, listings: listings, accounts: accounts}
}

// Create records p's interest in listingID. The store's unique constraint is
// the authority on duplicates.
func (r *Registry) Create(ctx context.Context, p auth.Principal, listingID string) (Match, error) {
	if err := auth.Authorize(p, auth.CapMatch); err != nil {
		return Match{}, err
	}
	l, err := r.getListing(ctx, listingID)
	if err != nil {
		return Match{}, err
	}
	if l.OwnerID == p.ID {
		return Match{}, fmt.Errorf("%w: cannot match your own listing", apperr.ErrValidation)
	}
	m, err := r.store.CreateMatch(ctx, Match{
		ID:               ids.NewPublic(),
		ListingID:        l.ID,
		MatcherAccountID: p.ID,
	})
	if err != nil {
		return Match{}, err
	}
	audit.Record(ctx, "match.created", m.ID, zap.String("listing_id", l.ID))
	return m, nil
}

// ListForOwner returns the matches on one listing. Non-owners are refused
// regardless of subscription; unsubscribed owners get the count only.
func (r *Registry) ListForOwner(ctx context.Context, p auth.Principal, listingID string) (Listing, error) {
	l, err := r.getListing(ctx, listingID)
	if err != nil {
		return Listing{}, err
	}
	if p.ID == "" || p.ID != l.OwnerID || !p.Role.Valid() {
		return Listing{}, fmt.Errorf("%w: only the listing owner can view its matches", apperr.ErrForbidden)
	}
	matches, err := r.store.ListMatchesByListing(ctx, l.ID)
	if err != nil {
		return Listing{}, err
	}
	return r.gate(ctx, p.ID, matches)
}

// ListAllForOwner returns matches across every listing p owns.
func (r *Registry) ListAllForOwner(ctx context.Context, p auth.Principal) (Listing, error) {
	if p.ID == "" || !p.Role.Valid() {
		return Listing{}, fmt.Errorf("%w: unknown principal", apperr.ErrForbidden)
	}
	owned, err := r.listings.ListListings(ctx, catalog.Filter{OwnerID: p.ID})
	if err != nil {
		return Listing{}, err
	}
	if len(owned) == 0 {
		return Listing{}, nil
	}
	idsOwned := make([]string, len(owned))
	for i, l := range owned {
		idsOwned[i] = l.ID
	}
	matches, err := r.store.ListMatchesByListings(ctx, idsOwned)
	if err != nil {
		return Listing{}, err
	}
	return r.gate(ctx, p.ID, matches)
}

// Respond marks a match as answered by the listing owner.
func (r *Registry) Respond(ctx context.Context, p auth.Principal, matchID string) (Match, error) {
	if !ids.Valid(matchID) {
		return Match{}, fmt.Errorf("%w: malformed match id", apperr.ErrValidation)
	}
	m, err := r.store.GetMatch(ctx, matchID)
	if err != nil {
		return Match{}, err
	}
	l, err := r.listings.GetListing(ctx, m.ListingID)
	if err != nil {
		return Match{}, err
	}
	if p.ID == "" || p.ID != l.OwnerID {
		return Match{}, fmt.Errorf("%w: only the listing owner can respond", apperr.ErrForbidden)
	}
	if m.RespondedByOwner {
		return m, nil
	}
	m, err = r.store.MarkResponded(ctx, matchID)
	if err != nil {
		return Match{}, err
	}
	audit.Record(ctx, "match.responded", m.ID)
	return m, nil
}

func (r *Registry) getListing(ctx context.Context, id string) (catalog.Listing, error) {
	if !ids.Valid(id) {
		return catalog.Listing{}, fmt.Errorf("%w: malformed listing id", apperr.ErrValidation)
	}
	return r.listings.GetListing(ctx, id)
}

func (r *Registry) gate(ctx context.Context, ownerID string, matches []Match) (Listing, error) {
	owner, err := r.accounts.GetAccount(ctx, ownerID)
	if err != nil {
		return Listing{}, err
	}
	out := Listing{Count: len(matches)}
	if owner.SubscriptionActive {
		out.Matches = matches
		if out.Matches == nil {
			out.Matches = []Match{}
		}
	}
	return out, nil
}

// InMemory implements Store with a unique (listing, matcher) index.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[string]*Match
	byPair map[[2]string]string
}

func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]*Match), byPair: make(map[[2]string]string)}
}

func (s *InMemory) CreateMatch(_ context.Context, m Match) (Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{m.ListingID, m.MatcherAccountID}
	if _, ok := s.byPair[key]; ok {
		return Match{}, ErrDuplicate
	}
	m.CreatedAt = time.Now().UTC()
	s.byID[m.ID] = &m
	s.byPair[key] = m.ID
	return m, nil
}

func (s *InMemory) GetMatch(_ context.Context, id string) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return Match{}, ErrNotFound
	}
	return *m, nil
}

func (s *InMemory) ListMatchesByListing(ctx context.Context, listingID string) ([]Match, error) {
	return s.ListMatchesByListings(ctx, []string{listingID})
}

func (s *InMemory) ListMatchesByListings(_ context.Context, listingIDs []string) ([]Match, error) {
	want := make(map[string]struct{}, len(listingIDs))
	for _, id := range listingIDs {
		want[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Match
	for _, m := range s.byID {
		if _, ok := want[m.ListingID]; ok {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) MarkResponded(_ context.Context, id string) (Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return Match{}, ErrNotFound
	}
	m.RespondedByOwner = true
	return *m, nil
}
