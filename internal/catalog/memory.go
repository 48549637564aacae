package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store for development and tests.
type InMemory struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

func NewInMemory() *InMemory {
	return &InMemory{listings: make(map[string]*Listing)}
}

func clone(l *Listing) Listing {
	out := *l
	out.Likes = append([]string{}, l.Likes...)
	out.Dislikes = append([]string{}, l.Dislikes...)
	return out
}

func (s *InMemory) CreateListing(_ context.Context, l Listing) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	l.Likes, l.Dislikes = nil, nil
	s.listings[l.ID] = &l
	return clone(&l), nil
}

func (s *InMemory) GetListing(_ context.Context, id string) (Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return Listing{}, ErrNotFound
	}
	return clone(l), nil
}

func (s *InMemory) ListListings(_ context.Context, f Filter) ([]Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Listing, 0)
	for _, l := range s.listings {
		if f.Kind != "" && l.Kind != f.Kind {
			continue
		}
		if f.Genre != "" && l.Genre != f.Genre {
			continue
		}
		if f.Year != 0 && l.Year != f.Year {
			continue
		}
		if f.OwnerID != "" && l.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, clone(l))
	}
	// Newest first; ULIDs break ties in creation order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) UpdateListing(_ context.Context, l Listing) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.listings[l.ID]
	if !ok {
		return Listing{}, ErrNotFound
	}
	cur.Title, cur.Content, cur.Price = l.Title, l.Content, l.Price
	cur.Genre, cur.Year, cur.Poster = l.Genre, l.Year, l.Poster
	cur.UpdatedAt = time.Now().UTC()
	return clone(cur), nil
}

func (s *InMemory) DeleteListing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[id]; !ok {
		return ErrNotFound
	}
	delete(s.listings, id)
	return nil
}

func (s *InMemory) SetReaction(_ context.Context, listingID, accountID string, r Reaction) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return Listing{}, ErrNotFound
	}
	l.Likes = without(l.Likes, accountID)
	l.Dislikes = without(l.Dislikes, accountID)
	switch r {
	case ReactionLike:
		l.Likes = append(l.Likes, accountID)
	case ReactionDislike:
		l.Dislikes = append(l.Dislikes, accountID)
	}
	return clone(l), nil
}

func (s *InMemory) CountListingsByKind(_ context.Context) (map[Kind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[Kind]int{KindProduct: 0, KindFilm: 0}
	for _, l := range s.listings {
		out[l.Kind]++
	}
	return out, nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
