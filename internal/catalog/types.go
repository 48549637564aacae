package catalog

import (
	"context"
	"fmt"
	"time"

	"tradepost.app/internal/apperr"
)

// Kind distinguishes the two listing variants.
type Kind string

const (
	KindProduct Kind = "product"
	KindFilm    Kind = "film"
)

func (k Kind) Valid() bool { return k == KindProduct || k == KindFilm }

// Reaction is a viewer's like or dislike. The empty reaction clears it.
type Reaction string

const (
	ReactionNone    Reaction = ""
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

// Genres accepted for films.
var Genres = []string{"action", "comedy", "drama", "horror", "romance", "sci-fi"}

// Listing is a product or film owned by an account. Price is in minor units
// and only meaningful for products; Genre and Year only for films.
type Listing struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Price     int64     `json:"price,omitempty"`
	Genre     string    `json:"genre,omitempty"`
	Year      int       `json:"year,omitempty"`
	Poster    string    `json:"poster,omitempty"`
	Likes     []string  `json:"likes"`
	Dislikes  []string  `json:"dislikes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReactionOf returns the reaction accountID currently holds on l.
func (l Listing) ReactionOf(accountID string) Reaction {
	for _, id := range l.Likes {
		if id == accountID {
			return ReactionLike
		}
	}
	for _, id := range l.Dislikes {
		if id == accountID {
			return ReactionDislike
		}
	}
	return ReactionNone
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Kind    Kind
	Genre   string
	Year    int
	OwnerID string
	Limit   int
}

// Store persists listings and their reactions.
type Store interface {
	CreateListing(ctx context.Context, l Listing) (Listing, error)
	GetListing(ctx context.Context, id string) (Listing, error)
	ListListings(ctx context.Context, f Filter) ([]Listing, error)
	UpdateListing(ctx context.Context, l Listing) (Listing, error)
	DeleteListing(ctx context.Context, id string) error
	SetReaction(ctx context.Context, listingID, accountID string, r Reaction) (Listing, error)
	CountListingsByKind(ctx context.Context) (map[Kind]int, error)
}

var ErrNotFound = fmt.Errorf("%w: listing not found", apperr.ErrNotFound)
