package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradepost.app/internal/apperr"
	"tradepost.app/internal/audit"
	"tradepost.app/internal/ids"
	"tradepost.app/internal/obs"
)

// Service records checkout attempts and their terminal outcome.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Open records a PENDING order for a session the gateway just created.
func (s *Service) Open(ctx context.Context, ownerID, sessionID string, amt Money, kind Kind) (Order, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Order{}, fmt.Errorf("%w: session id is required", apperr.ErrValidation)
	}
	if amt.Amount < 0 {
		return Order{}, ErrInvalidAmount
	}
	if strings.TrimSpace(amt.Currency) == "" {
		return Order{}, ErrInvalidCurrency
	}
	o, err := s.store.CreateOrder(ctx, Order{
		ID:             ids.New(),
		SessionID:      sessionID,
		OwnerAccountID: ownerID,
		Kind:           kind,
		Amount:         amt.Amount,
		Currency:       strings.ToLower(amt.Currency),
		Status:         StatusPending,
	})
	if err != nil {
		return Order{}, err
	}
	audit.Record(ctx, "order.opened", o.ID, zap.String("session_id", sessionID), zap.String("kind", string(kind)))
	return o, nil
}

// Resolve moves the order for sessionID to a terminal status. Resolving to
// the status it already has is a no-op; resolving to the opposite terminal
// status returns ErrAlreadyResolved and leaves the order untouched.
func (s *Service) Resolve(ctx context.Context, sessionID string, to Status) (Order, bool, error) {
	if !to.Terminal() {
		return Order{}, false, fmt.Errorf("%w: cannot resolve to %s", apperr.ErrValidation, to)
	}
	o, changed, err := s.store.ResolveOrder(ctx, sessionID, to)
	log := obs.From(ctx).With(zap.String("session_id", sessionID), zap.String("target", string(to)))
	switch {
	case err != nil:
		log.Warn("order not resolved", zap.Error(err))
		return o, false, err
	case !changed:
		log.Info("order already resolved", zap.String("status", string(o.Status)))
		return o, false, nil
	}
	obs.OrderResolved(string(to))
	audit.Record(ctx, "order.resolved", o.ID, zap.String("session_id", sessionID), zap.String("status", string(to)))
	return o, true, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (Order, error) {
	return s.store.GetOrderBySession(ctx, sessionID)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	return s.store.ListOrdersByOwner(ctx, ownerID)
}

func (s *Service) Counts(ctx context.Context) (map[Status]int, error) {
	return s.store.CountOrdersByStatus(ctx)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu        sync.RWMutex
	bySession map[string]*Order
}

// NewInMemory creates a fresh ledger store.
func NewInMemory() *InMemory {
	return &InMemory{bySession: make(map[string]*Order)}
}

func (m *InMemory) CreateOrder(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySession[o.SessionID]; ok {
		return Order{}, ErrDuplicateOrder
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	m.bySession[o.SessionID] = &o
	return o, nil
}

func (m *InMemory) GetOrderBySession(_ context.Context, sessionID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.bySession[sessionID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return *o, nil
}

func (m *InMemory) ResolveOrder(_ context.Context, sessionID string, to Status) (Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.bySession[sessionID]
	if !ok {
		return Order{}, false, ErrNotFound
	}
	switch o.Status {
	case StatusPending:
		o.Status = to
		o.UpdatedAt = time.Now().UTC()
		return *o, true, nil
	case to:
		return *o, false, nil
	default:
		return *o, false, ErrAlreadyResolved
	}
}

func (m *InMemory) ListOrdersByOwner(_ context.Context, ownerID string) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, o := range m.bySession {
		if o.OwnerAccountID == ownerID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *InMemory) CountOrdersByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[Status]int{StatusPending: 0, StatusSuccess: 0, StatusReject: 0}
	for _, o := range m.bySession {
		out[o.Status]++
	}
	return out, nil
}
