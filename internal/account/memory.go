package account

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tradepost.app/internal/auth"
)

// InMemory implements Store with a mutex and a unique email index.
type InMemory struct {
	mu       sync.RWMutex
	byID     map[string]*Account
	byEmail  map[string]string
	customer map[string]string
}

// NewInMemory creates an empty account store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:     make(map[string]*Account),
		byEmail:  make(map[string]string),
		customer: make(map[string]string),
	}
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (s *InMemory) CreateAccount(_ context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := emailKey(a.Email)
	if _, taken := s.byEmail[key]; taken {
		return Account{}, ErrEmailTaken
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := a
	s.byID[a.ID] = &cp
	s.byEmail[key] = a.ID
	if a.GatewayCustomerID != "" {
		s.customer[a.GatewayCustomerID] = a.ID
	}
	return a, nil
}

func (s *InMemory) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *a, nil
}

func (s *InMemory) FindAccountByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *InMemory) FindAccountByCustomer(_ context.Context, customerID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.customer[customerID]
	if !ok || customerID == "" {
		return Account{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *InMemory) ListAccounts(_ context.Context, role auth.Role) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.byID))
	for _, a := range s.byID {
		if role != "" && a.Role != role {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) CountAccountsByRole(_ context.Context) (map[auth.Role]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[auth.Role]int, len(auth.Roles))
	for _, a := range s.byID {
		counts[a.Role]++
	}
	return counts, nil
}

func (s *InMemory) UpdateProfile(_ context.Context, id string, patch ProfilePatch) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if patch.Email != nil {
		newKey := emailKey(*patch.Email)
		if owner, taken := s.byEmail[newKey]; taken && owner != id {
			return Account{}, ErrEmailTaken
		}
		delete(s.byEmail, emailKey(a.Email))
		s.byEmail[newKey] = id
		a.Email = *patch.Email
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.PasswordHash != nil {
		a.PasswordHash = *patch.PasswordHash
	}
	a.UpdatedAt = time.Now().UTC()
	return *a, nil
}

func (s *InMemory) SetSubscription(_ context.Context, id string, patch SubscriptionPatch) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if patch.CustomerID != "" {
		if owner, ok := s.customer[patch.CustomerID]; ok && owner != id {
			return Account{}, ErrCustomerLinked
		}
	}
	a.SubscriptionActive = patch.Active
	if patch.CustomerID != "" && patch.CustomerID != a.GatewayCustomerID {
		if a.GatewayCustomerID != "" {
			delete(s.customer, a.GatewayCustomerID)
		}
		a.GatewayCustomerID = patch.CustomerID
		s.customer[patch.CustomerID] = id
	}
	if patch.SubscriptionID != "" {
		a.GatewaySubscriptionID = patch.SubscriptionID
	}
	a.UpdatedAt = time.Now().UTC()
	return *a, nil
}

func (s *InMemory) SetGatewayCustomer(_ context.Context, id, customerID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if owner, ok := s.customer[customerID]; ok && owner != id {
		return Account{}, ErrCustomerLinked
	}
	if a.GatewayCustomerID != "" {
		delete(s.customer, a.GatewayCustomerID)
	}
	a.GatewayCustomerID = customerID
	s.customer[customerID] = id
	a.UpdatedAt = time.Now().UTC()
	return *a, nil
}

func (s *InMemory) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, emailKey(a.Email))
	if a.GatewayCustomerID != "" {
		delete(s.customer, a.GatewayCustomerID)
	}
	delete(s.byID, id)
	return nil
}
