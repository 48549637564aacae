package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier used as primary key for
// accounts, listings and orders.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewPublic returns a random UUID for identifiers handed out to other users
// (match ids), where creation order must not be guessable.
func NewPublic() string {
	return uuid.NewString()
}

// Valid reports whether s is a well-formed record identifier produced by New
// or NewPublic. Malformed ids are rejected before any store lookup.
func Valid(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if _, err := ulid.ParseStrict(s); err == nil {
		return true
	}
	_, err := uuid.Parse(s)
	return err == nil
}
