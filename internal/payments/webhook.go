package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"tradepost.app/internal/apperr"
)

// Event types consumed by the subscription state machine.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventCheckoutAsyncFailed = "checkout.session.async_payment_failed"
	EventCheckoutExpired     = "checkout.session.expired"
	EventPaymentFailed       = "payment_intent.payment_failed"
	EventPaymentProcessing   = "payment_intent.processing"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// SignatureHeader carries the delivery signature.
const SignatureHeader = "Stripe-Signature"

// ErrInvalidSignature is returned when a delivery cannot be authenticated.
var ErrInvalidSignature = fmt.Errorf("%w: invalid webhook signature", apperr.ErrValidation)

// Event is a verified delivery reduced to the correlation keys we act on.
type Event struct {
	ID                 string
	Type               string
	SessionID          string
	CustomerEmail      string
	CustomerID         string
	SubscriptionID     string
	SubscriptionStatus string
	PaymentIntentID    string
	AccountID          string
}

// UpstreamActive reports whether a subscription event carries status active.
func (e Event) UpstreamActive() bool {
	return e.SubscriptionStatus == string(stripe.SubscriptionStatusActive)
}

// Verifier authenticates webhook deliveries with the shared secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

// Parse verifies the signature over the raw payload before reading any
// event-specific field.
func (v *Verifier) Parse(payload []byte, signatureHeader string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, ErrInvalidSignature
	}
	out := Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}
	raw := evt.Data.Raw

	switch {
	case strings.HasPrefix(out.Type, "checkout.session."):
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw, &cs); err != nil {
			return Event{}, fmt.Errorf("%w: decode checkout session: %v", apperr.ErrValidation, err)
		}
		out.SessionID = cs.ID
		out.CustomerEmail = cs.CustomerEmail
		if out.CustomerEmail == "" && cs.CustomerDetails != nil {
			out.CustomerEmail = cs.CustomerDetails.Email
		}
		if cs.Customer != nil {
			out.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			out.SubscriptionID = cs.Subscription.ID
		}
		if cs.PaymentIntent != nil {
			out.PaymentIntentID = cs.PaymentIntent.ID
		}
		out.AccountID = cs.ClientReferenceID
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return Event{}, fmt.Errorf("%w: decode payment intent: %v", apperr.ErrValidation, err)
		}
		out.PaymentIntentID = pi.ID
		out.CustomerEmail = pi.ReceiptEmail
		if pi.Customer != nil {
			out.CustomerID = pi.Customer.ID
		}
		out.AccountID = pi.Metadata["userId"]
	case strings.HasPrefix(out.Type, "customer.subscription."):
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return Event{}, fmt.Errorf("%w: decode subscription: %v", apperr.ErrValidation, err)
		}
		out.SubscriptionID = sub.ID
		out.SubscriptionStatus = string(sub.Status)
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
	}
	return out, nil
}
