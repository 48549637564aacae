package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradepost.app/internal/apperr"
)

// Status is the lifecycle of an order. PENDING is the only non-terminal state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusReject  Status = "REJECT"
)

func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusReject }

// Kind records what the checkout paid for.
type Kind string

const (
	KindPayment      Kind = "payment"
	KindSubscription Kind = "subscription"
)

// Money is represented in minor units (e.g., cents). No floats.
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// Order is one payment attempt, keyed by the gateway session id.
type Order struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	OwnerAccountID string    `json:"owner_account_id"`
	Kind           Kind      `json:"kind"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists orders. ResolveOrder must only move an order out of PENDING;
// it reports changed=false when the order already holds the target status.
type Store interface {
	CreateOrder(ctx context.Context, o Order) (Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (Order, error)
	ResolveOrder(ctx context.Context, sessionID string, to Status) (Order, bool, error)
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]Order, error)
	CountOrdersByStatus(ctx context.Context) (map[Status]int, error)
}

var (
	ErrNotFound        = fmt.Errorf("%w: order not found", apperr.ErrNotFound)
	ErrDuplicateOrder  = fmt.Errorf("%w: order already exists for session", apperr.ErrConflict)
	ErrAlreadyResolved = errors.New("order already resolved with a different status")
	ErrInvalidAmount   = fmt.Errorf("%w: invalid amount (must be >= 0)", apperr.ErrValidation)
	ErrInvalidCurrency = fmt.Errorf("%w: invalid currency", apperr.ErrValidation)
)
