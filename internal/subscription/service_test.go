package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost.app/internal/account"
	"tradepost.app/internal/apperr"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/cache"
	"tradepost.app/internal/ids"
	"tradepost.app/internal/ledger"
	"tradepost.app/internal/payments"
)

type fakeGateway struct {
	mu         sync.Mutex
	sessions   int
	customers  int
	cancelled  []string
	failCancel bool
	last       payments.CheckoutParams
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, email, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers++
	return "cus_" + email, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p payments.CheckoutParams) (payments.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions++
	g.last = p
	id := "cs_test_" + ids.New()
	return payments.Session{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCancel {
		return errors.Join(apperr.ErrUpstream, errors.New("gateway down"))
	}
	g.cancelled = append(g.cancelled, id)
	return nil
}

type harness struct {
	svc      *Service
	accounts *account.InMemory
	orders   *ledger.InMemory
	gateway  *fakeGateway
	acct     account.Account
}

func newHarness(t *testing.T) harness {
	t.Helper()
	accounts := account.NewInMemory()
	orders := ledger.NewInMemory()
	gw := &fakeGateway{}
	svc := NewService(accounts, ledger.NewService(orders), gw, cache.NewMemory(""), Config{
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel", PriceID: "price_1",
	})
	acct, err := accounts.CreateAccount(context.Background(), account.Account{
		ID: ids.New(), Name: "Alice", Email: "a@example.com", Role: auth.RoleBuyer,
	})
	require.NoError(t, err)
	return harness{svc: svc, accounts: accounts, orders: orders, gateway: gw, acct: acct}
}

type snapshot struct {
	accounts []account.Account
	orders   []ledger.Order
}

func (h harness) snapshot(t *testing.T) snapshot {
	t.Helper()
	ctx := context.Background()
	all, err := h.accounts.ListAccounts(ctx, "")
	require.NoError(t, err)
	orders, err := h.orders.ListOrdersByOwner(ctx, h.acct.ID)
	require.NoError(t, err)
	return snapshot{accounts: all, orders: orders}
}

func TestCheckoutCompletedEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	co, err := h.svc.Checkout(ctx, h.acct.Principal(), CheckoutRequest{ProductName: "Bike", Amount: 2500})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, co.Order.Status)
	assert.Equal(t, "a@example.com", h.gateway.last.CustomerEmail)

	evt := payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, SessionID: co.SessionID, CustomerEmail: "a@example.com"}
	outcome, err := h.svc.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	acct, _ := h.accounts.GetAccount(ctx, h.acct.ID)
	assert.True(t, acct.SubscriptionActive)
	order, _ := h.orders.GetOrderBySession(ctx, co.SessionID)
	assert.Equal(t, ledger.StatusSuccess, order.Status)

	before := h.snapshot(t)
	outcome, err = h.svc.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	evt.ID = "evt_1_redelivered_under_new_id"
	outcome, err = h.svc.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, before, h.snapshot(t))
}

func TestUnmatchedSubscriptionDeletedIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.accounts.SetSubscription(ctx, h.acct.ID, account.SubscriptionPatch{Active: true, CustomerID: "cus_known"})
	require.NoError(t, err)

	before := h.snapshot(t)
	outcome, err := h.svc.Apply(ctx, payments.Event{ID: "evt_2", Type: payments.EventSubscriptionDeleted, CustomerID: "cus_unknown", SubscriptionID: "sub_x"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Equal(t, before, h.snapshot(t))
}

func TestSubscriptionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	co, err := h.svc.Subscribe(ctx, h.acct.Principal())
	require.NoError(t, err)
	assert.Equal(t, ledger.KindSubscription, co.Order.Kind)
	assert.Equal(t, 1, h.gateway.customers)
	assert.Equal(t, "cus_a@example.com", h.gateway.last.CustomerID)

	_, err = h.svc.Apply(ctx, payments.Event{ID: "e1", Type: payments.EventSubscriptionCreated, CustomerID: "cus_a@example.com", SubscriptionID: "sub_1", SubscriptionStatus: "active"})
	require.NoError(t, err)
	view, _ := h.svc.Status(ctx, h.acct.ID)
	assert.Equal(t, View{State: Active, CustomerID: "cus_a@example.com", SubscriptionID: "sub_1"}, view)

	_, err = h.svc.Subscribe(ctx, h.acct.Principal())
	assert.ErrorIs(t, err, ErrAlreadyActive)

	_, err = h.svc.Apply(ctx, payments.Event{ID: "e2", Type: payments.EventSubscriptionDeleted, CustomerID: "cus_a@example.com", SubscriptionID: "sub_old"})
	require.NoError(t, err)
	view, _ = h.svc.Status(ctx, h.acct.ID)
	assert.Equal(t, Active, view.State, "deletion of a replaced subscription must not deactivate")

	_, err = h.svc.Apply(ctx, payments.Event{ID: "e3", Type: payments.EventSubscriptionUpdated, CustomerID: "cus_a@example.com", SubscriptionID: "sub_1", SubscriptionStatus: "past_due"})
	require.NoError(t, err)
	view, _ = h.svc.Status(ctx, h.acct.ID)
	assert.Equal(t, Inactive, view.State)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.accounts.SetSubscription(ctx, h.acct.ID, account.SubscriptionPatch{Active: true, CustomerID: "cus_1", SubscriptionID: "sub_1"})
	require.NoError(t, err)

	h.gateway.failCancel = true
	_, err = h.svc.Cancel(ctx, h.acct.Principal())
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	view, _ := h.svc.Status(ctx, h.acct.ID)
	assert.Equal(t, Active, view.State)

	h.gateway.failCancel = false
	view, err = h.svc.Cancel(ctx, h.acct.Principal())
	require.NoError(t, err)
	assert.Equal(t, Inactive, view.State)
	assert.Equal(t, []string{"sub_1"}, h.gateway.cancelled)
}

func TestPaymentFailureRejectsAndProcessingNeverReopens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co, err := h.svc.Checkout(ctx, h.acct.Principal(), CheckoutRequest{ProductName: "Bike", Amount: 100})
	require.NoError(t, err)

	_, err = h.svc.Apply(ctx, payments.Event{ID: "f1", Type: payments.EventCheckoutAsyncFailed, SessionID: co.SessionID})
	require.NoError(t, err)
	order, _ := h.orders.GetOrderBySession(ctx, co.SessionID)
	assert.Equal(t, ledger.StatusReject, order.Status)

	outcome, err := h.svc.Apply(ctx, payments.Event{ID: "f2", Type: payments.EventPaymentProcessing, PaymentIntentID: co.SessionID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = h.svc.Apply(ctx, payments.Event{ID: "f3", Type: payments.EventCheckoutCompleted, SessionID: co.SessionID, CustomerEmail: "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	order, _ = h.orders.GetOrderBySession(ctx, co.SessionID)
	assert.Equal(t, ledger.StatusReject, order.Status)
}

func TestCheckoutValidationAndAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Checkout(ctx, h.acct.Principal(), CheckoutRequest{ProductName: "", Amount: 10})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.Checkout(ctx, auth.Principal{ID: h.acct.ID, Role: "ghost"}, CheckoutRequest{ProductName: "x", Amount: 10})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Zero(t, h.gateway.sessions)

	noGateway := NewService(h.accounts, ledger.NewService(h.orders), nil, nil, Config{})
	_, err = noGateway.Checkout(ctx, h.acct.Principal(), CheckoutRequest{ProductName: "x", Amount: 10})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestCheckoutCompletedFallsBackToCustomerID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.accounts.SetGatewayCustomer(ctx, h.acct.ID, "cus_fallback")
	require.NoError(t, err)

	outcome, err := h.svc.Apply(ctx, payments.Event{ID: "c1", Type: payments.EventCheckoutCompleted, SessionID: "cs_unknown", CustomerID: "cus_fallback"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	acct, _ := h.accounts.GetAccount(ctx, h.acct.ID)
	assert.True(t, acct.SubscriptionActive)
}

func TestCheckoutDoesNotStealLinkedCustomer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other, err := h.accounts.CreateAccount(ctx, account.Account{ID: ids.New(), Name: "Bob", Email: "b@example.com", Role: auth.RoleBuyer})
	require.NoError(t, err)
	_, err = h.accounts.SetSubscription(ctx, other.ID, account.SubscriptionPatch{Active: true, CustomerID: "cus_b", SubscriptionID: "sub_b"})
	require.NoError(t, err)

	outcome, err := h.svc.Apply(ctx, payments.Event{ID: "x1", Type: payments.EventCheckoutCompleted, CustomerEmail: "a@example.com", CustomerID: "cus_b"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	_, err = h.svc.Apply(ctx, payments.Event{ID: "x2", Type: payments.EventSubscriptionDeleted, CustomerID: "cus_b", SubscriptionID: "sub_b"})
	require.NoError(t, err)

	alice, _ := h.accounts.GetAccount(ctx, h.acct.ID)
	bob, _ := h.accounts.GetAccount(ctx, other.ID)
	assert.True(t, alice.SubscriptionActive)
	assert.Empty(t, alice.GatewayCustomerID)
	assert.False(t, bob.SubscriptionActive, "deletion must reach the customer's owner")
	assert.Equal(t, "cus_b", bob.GatewayCustomerID)
}

func TestCheckoutFallsBackToClientReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	outcome, err := h.svc.Apply(ctx, payments.Event{ID: "r1", Type: payments.EventCheckoutCompleted, CustomerEmail: "unknown@example.com", CustomerID: "cus_new", AccountID: h.acct.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	acct, _ := h.accounts.GetAccount(ctx, h.acct.ID)
	assert.True(t, acct.SubscriptionActive)
	assert.Equal(t, "cus_new", acct.GatewayCustomerID)

	outcome, err = h.svc.Apply(ctx, payments.Event{ID: "r2", Type: payments.EventCheckoutCompleted, AccountID: "not-an-id"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome)
}

// conflictingAccounts rejects every subscription write the way the
// PostgreSQL store does on a duplicate gateway customer.
type conflictingAccounts struct {
	*account.InMemory
}

func (conflictingAccounts) SetSubscription(context.Context, string, account.SubscriptionPatch) (account.Account, error) {
	return account.Account{}, account.ErrCustomerLinked
}

func TestStoreConflictEndsDeliveryWithoutMarkingIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := NewService(conflictingAccounts{h.accounts}, ledger.NewService(h.orders), h.gateway, cache.NewMemory(""), Config{})

	evt := payments.Event{ID: "k1", Type: payments.EventCheckoutCompleted, CustomerEmail: "a@example.com", CustomerID: "cus_taken"}
	outcome, err := svc.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome)

	outcome, err = svc.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome, "a rejected delivery is not recorded as processed")
}
