package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradepost.app/internal/account"
	"tradepost.app/internal/apperr"
	"tradepost.app/internal/audit"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/cache"
	"tradepost.app/internal/ids"
	"tradepost.app/internal/ledger"
	"tradepost.app/internal/obs"
	"tradepost.app/internal/payments"
)

// Outcome labels what a webhook delivery did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// Config carries checkout settings fixed at start-up.
type Config struct {
	SuccessURL string
	CancelURL  string
	PriceID    string
	Currency   string
	// EventTTL bounds how long processed event ids are remembered.
	EventTTL time.Duration
}

// CheckoutRequest is a one-time purchase.
type CheckoutRequest struct {
	ProductName string `json:"product_name"`
	Description string `json:"description,omitempty"`
	// Amount is in minor units.
	Amount int64 `json:"amount"`
}

// Checkout is the client-facing result of opening a checkout.
type Checkout struct {
	SessionID string       `json:"session_id"`
	URL       string       `json:"url"`
	Order     ledger.Order `json:"order"`
}

// View is an account's subscription as shown to its owner.
type View struct {
	State          State  `json:"state"`
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

var (
	ErrAlreadyActive = fmt.Errorf("%w: subscription already active", apperr.ErrConflict)
	errNoGateway     = fmt.Errorf("%w: payment gateway not configured", apperr.ErrUpstream)
)

type Service struct {
	accounts account.Store
	orders   *ledger.Service
	gateway  payments.Gateway
	dedupe   cache.Client
	cfg      Config
}

// NewService wires the state machine. gateway may be nil when payments are
// disabled; dedupe may be nil to process every delivery.
func NewService(accounts account.Store, orders *ledger.Service, gateway payments.Gateway, dedupe cache.Client, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = 72 * time.Hour
	}
	return &Service{accounts: accounts, orders: orders, gateway: gateway, dedupe: dedupe, cfg: cfg}
}

// Checkout opens a one-time payment session and records a PENDING order.
func (s *Service) Checkout(ctx context.Context, p auth.Principal, req CheckoutRequest) (Checkout, error) {
	if err := auth.Authorize(p, auth.CapCheckout); err != nil {
		return Checkout{}, err
	}
	req.ProductName = strings.TrimSpace(req.ProductName)
	if req.ProductName == "" || req.Amount <= 0 {
		return Checkout{}, fmt.Errorf("%w: product_name and a positive amount are required", apperr.ErrValidation)
	}
	if s.gateway == nil {
		return Checkout{}, errNoGateway
	}
	acct, err := s.accounts.GetAccount(ctx, p.ID)
	if err != nil {
		return Checkout{}, err
	}
	sess, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutParams{
		Mode:          payments.ModePayment,
		AccountID:     acct.ID,
		CustomerID:    acct.GatewayCustomerID,
		CustomerEmail: acct.Email,
		ProductName:   req.ProductName,
		Description:   req.Description,
		Amount:        req.Amount,
		Currency:      s.cfg.Currency,
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
	})
	if err != nil {
		return Checkout{}, err
	}
	o, err := s.orders.Open(ctx, acct.ID, sess.ID, ledger.Money{Currency: s.cfg.Currency, Amount: req.Amount}, ledger.KindPayment)
	if err != nil {
		return Checkout{}, err
	}
	return Checkout{SessionID: sess.ID, URL: sess.URL, Order: o}, nil
}

// Subscribe opens a subscription-mode session, creating the gateway customer
// on first use.
func (s *Service) Subscribe(ctx context.Context, p auth.Principal) (Checkout, error) {
	if err := auth.Authorize(p, auth.CapCheckout); err != nil {
		return Checkout{}, err
	}
	if s.gateway == nil {
		return Checkout{}, errNoGateway
	}
	acct, err := s.accounts.GetAccount(ctx, p.ID)
	if err != nil {
		return Checkout{}, err
	}
	if acct.SubscriptionActive {
		return Checkout{}, ErrAlreadyActive
	}
	if acct.GatewayCustomerID == "" {
		customerID, err := s.gateway.EnsureCustomer(ctx, acct.Email, acct.Name)
		if err != nil {
			return Checkout{}, err
		}
		if acct, err = s.accounts.SetGatewayCustomer(ctx, acct.ID, customerID); err != nil {
			return Checkout{}, err
		}
	}
	sess, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutParams{
		Mode:       payments.ModeSubscription,
		AccountID:  acct.ID,
		CustomerID: acct.GatewayCustomerID,
		PriceID:    s.cfg.PriceID,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	})
	if err != nil {
		return Checkout{}, err
	}
	o, err := s.orders.Open(ctx, acct.ID, sess.ID, ledger.Money{Currency: s.cfg.Currency}, ledger.KindSubscription)
	if err != nil {
		return Checkout{}, err
	}
	return Checkout{SessionID: sess.ID, URL: sess.URL, Order: o}, nil
}

// Cancel ends the caller's subscription. The gateway is told first; a gateway
// failure leaves the local state untouched.
func (s *Service) Cancel(ctx context.Context, p auth.Principal) (View, error) {
	acct, err := s.accounts.GetAccount(ctx, p.ID)
	if err != nil {
		return View{}, err
	}
	if acct.GatewaySubscriptionID != "" {
		if s.gateway == nil {
			return View{}, errNoGateway
		}
		if err := s.gateway.CancelSubscription(ctx, acct.GatewaySubscriptionID); err != nil {
			return View{}, err
		}
	}
	acct, _, err = s.transition(ctx, acct, TriggerCancelRequested, account.SubscriptionPatch{})
	if err != nil {
		return View{}, err
	}
	return viewOf(acct), nil
}

// Status returns the subscription view of account id.
func (s *Service) Status(ctx context.Context, id string) (View, error) {
	acct, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return View{}, err
	}
	return viewOf(acct), nil
}

// Orders lists the caller's orders.
func (s *Service) Orders(ctx context.Context, id string) ([]ledger.Order, error) {
	return s.orders.ListByOwner(ctx, id)
}

// Apply executes one verified webhook delivery. A nil error means the gateway
// should consider the delivery handled; errors are transient store failures
// and ask the gateway to redeliver. Conflicts and validation failures from the
// stores are permanent for the delivery and are reported as unmatched without
// being recorded as processed.
func (s *Service) Apply(ctx context.Context, evt payments.Event) (Outcome, error) {
	log := obs.From(ctx).With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))
	ctx = obs.ToContext(ctx, log)

	dedupeKey := "webhook:" + evt.ID
	if s.dedupe != nil && evt.ID != "" {
		seen, err := s.dedupe.Seen(ctx, dedupeKey)
		if err != nil {
			log.Warn("dedupe lookup failed", zap.Error(err))
		} else if seen {
			log.Info("webhook event already processed")
			obs.WebhookEvent(evt.Type, string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := s.dispatch(ctx, evt)
	if terminal(err) {
		log.Warn("webhook event not applicable", zap.Error(err))
		obs.WebhookEvent(evt.Type, string(OutcomeUnmatched))
		return OutcomeUnmatched, nil
	}
	if err != nil {
		log.Error("webhook event failed", zap.Error(err))
		obs.WebhookEvent(evt.Type, "error")
		return outcome, err
	}
	if s.dedupe != nil && evt.ID != "" {
		if err := s.dedupe.Mark(ctx, dedupeKey, s.cfg.EventTTL); err != nil {
			log.Warn("dedupe mark failed", zap.Error(err))
		}
	}
	obs.WebhookEvent(evt.Type, string(outcome))
	log.Info("webhook event handled", zap.String("outcome", string(outcome)))
	return outcome, nil
}

// terminal reports store errors a redelivery cannot fix.
func terminal(err error) bool {
	return errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrValidation)
}

func (s *Service) dispatch(ctx context.Context, evt payments.Event) (Outcome, error) {
	switch evt.Type {
	case payments.EventCheckoutCompleted:
		return s.checkoutCompleted(ctx, evt)
	case payments.EventCheckoutAsyncFailed, payments.EventCheckoutExpired:
		return s.resolveOrder(ctx, evt.SessionID, ledger.StatusReject)
	case payments.EventPaymentFailed:
		return s.resolveOrder(ctx, evt.PaymentIntentID, ledger.StatusReject)
	case payments.EventPaymentProcessing:
		// Orders never move back to PENDING.
		obs.From(ctx).Info("payment processing", zap.String("payment_intent", evt.PaymentIntentID))
		return OutcomeIgnored, nil
	case payments.EventSubscriptionCreated, payments.EventSubscriptionUpdated:
		trigger := TriggerUpstreamInactive
		if evt.UpstreamActive() {
			trigger = TriggerUpstreamActive
		}
		return s.subscriptionEvent(ctx, evt, trigger)
	case payments.EventSubscriptionDeleted:
		return s.subscriptionEvent(ctx, evt, TriggerSubscriptionDeleted)
	default:
		return OutcomeIgnored, nil
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, evt payments.Event) (Outcome, error) {
	outcome := OutcomeUnmatched

	acct, err := s.findAccount(ctx, evt.CustomerEmail, evt.CustomerID, evt.AccountID)
	switch {
	case err == nil:
		patch := account.SubscriptionPatch{CustomerID: evt.CustomerID, SubscriptionID: evt.SubscriptionID}
		linked, err := s.customerLinkedElsewhere(ctx, acct, evt.CustomerID)
		if err != nil {
			return outcome, err
		}
		if linked {
			obs.From(ctx).Warn("checkout customer belongs to another account; not linking",
				zap.String("account_id", acct.ID), zap.String("customer_id", evt.CustomerID))
			patch = account.SubscriptionPatch{}
		}
		_, changed, err := s.transition(ctx, acct, TriggerCheckoutCompleted, patch)
		if err != nil {
			return outcome, err
		}
		outcome = OutcomeIgnored
		if changed {
			outcome = OutcomeApplied
		}
	case errors.Is(err, apperr.ErrNotFound):
		obs.From(ctx).Info("checkout completed for unknown account", zap.String("session_id", evt.SessionID))
	default:
		return outcome, err
	}

	orderOutcome, err := s.resolveOrder(ctx, evt.SessionID, ledger.StatusSuccess)
	if err != nil {
		return outcome, err
	}
	return merge(outcome, orderOutcome), nil
}

// merge keeps the stronger of two outcomes: applied, then ignored, then unmatched.
func merge(a, b Outcome) Outcome {
	rank := map[Outcome]int{OutcomeUnmatched: 0, OutcomeIgnored: 1, OutcomeApplied: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (s *Service) subscriptionEvent(ctx context.Context, evt payments.Event, trigger Trigger) (Outcome, error) {
	if evt.CustomerID == "" {
		return OutcomeUnmatched, nil
	}
	acct, err := s.accounts.FindAccountByCustomer(ctx, evt.CustomerID)
	if errors.Is(err, apperr.ErrNotFound) {
		obs.From(ctx).Info("subscription event for unknown customer", zap.String("customer_id", evt.CustomerID))
		return OutcomeUnmatched, nil
	}
	if err != nil {
		return OutcomeUnmatched, err
	}
	// A deactivation for a subscription the account has since replaced is stale.
	if Next(StateOf(acct.SubscriptionActive), trigger) == Inactive &&
		acct.GatewaySubscriptionID != "" && evt.SubscriptionID != "" &&
		acct.GatewaySubscriptionID != evt.SubscriptionID {
		obs.From(ctx).Info("stale subscription event ignored",
			zap.String("event_subscription", evt.SubscriptionID),
			zap.String("current_subscription", acct.GatewaySubscriptionID))
		return OutcomeIgnored, nil
	}
	patch := account.SubscriptionPatch{}
	if trigger == TriggerUpstreamActive {
		patch.SubscriptionID = evt.SubscriptionID
	}
	_, changed, err := s.transition(ctx, acct, trigger, patch)
	if err != nil {
		return OutcomeUnmatched, err
	}
	if !changed {
		return OutcomeIgnored, nil
	}
	return OutcomeApplied, nil
}

func (s *Service) resolveOrder(ctx context.Context, sessionID string, to ledger.Status) (Outcome, error) {
	if sessionID == "" {
		return OutcomeUnmatched, nil
	}
	_, changed, err := s.orders.Resolve(ctx, sessionID, to)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return OutcomeUnmatched, nil
	case errors.Is(err, ledger.ErrAlreadyResolved):
		return OutcomeIgnored, nil
	case err != nil:
		return OutcomeUnmatched, err
	case !changed:
		return OutcomeIgnored, nil
	}
	return OutcomeApplied, nil
}

// findAccount correlates a checkout with an account by email, then gateway
// customer id, then the account id carried as client reference.
func (s *Service) findAccount(ctx context.Context, email, customerID, accountID string) (account.Account, error) {
	if !ids.Valid(accountID) {
		accountID = ""
	}
	lookups := []struct {
		key  string
		find func(context.Context, string) (account.Account, error)
	}{
		{email, s.accounts.FindAccountByEmail},
		{customerID, s.accounts.FindAccountByCustomer},
		{accountID, s.accounts.GetAccount},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		acct, err := l.find(ctx, l.key)
		if err == nil || !errors.Is(err, apperr.ErrNotFound) {
			return acct, err
		}
	}
	return account.Account{}, account.ErrNotFound
}

// customerLinkedElsewhere reports whether customerID already belongs to an
// account other than acct.
func (s *Service) customerLinkedElsewhere(ctx context.Context, acct account.Account, customerID string) (bool, error) {
	if customerID == "" || customerID == acct.GatewayCustomerID {
		return false, nil
	}
	owner, err := s.accounts.FindAccountByCustomer(ctx, customerID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return owner.ID != acct.ID, nil
}

// transition writes the state Next selects. Nothing is written when neither
// the state nor the correlation ids would change.
func (s *Service) transition(ctx context.Context, acct account.Account, trigger Trigger, patch account.SubscriptionPatch) (account.Account, bool, error) {
	from := StateOf(acct.SubscriptionActive)
	to := Next(from, trigger)
	if patch.CustomerID == acct.GatewayCustomerID {
		patch.CustomerID = ""
	}
	if patch.SubscriptionID == acct.GatewaySubscriptionID {
		patch.SubscriptionID = ""
	}
	if from == to && patch.CustomerID == "" && patch.SubscriptionID == "" {
		return acct, false, nil
	}
	patch.Active = to == Active
	updated, err := s.accounts.SetSubscription(ctx, acct.ID, patch)
	if err != nil {
		return account.Account{}, false, err
	}
	if from != to {
		obs.SubscriptionTransition(string(from), string(to))
		audit.Record(ctx, "subscription.transition", acct.ID,
			zap.String("from", string(from)), zap.String("to", string(to)), zap.String("trigger", string(trigger)))
	}
	return updated, true, nil
}

func viewOf(a account.Account) View {
	return View{State: StateOf(a.SubscriptionActive), CustomerID: a.GatewayCustomerID, SubscriptionID: a.GatewaySubscriptionID}
}
