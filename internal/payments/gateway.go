// Package payments adapts the Stripe API: outbound checkout/customer calls and
// inbound webhook verification.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"tradepost.app/internal/apperr"
)

// Mode is the checkout session mode.
type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

// CheckoutParams describes one hosted checkout session.
type CheckoutParams struct {
	Mode          Mode
	AccountID     string
	CustomerID    string
	CustomerEmail string
	// PriceID is used for subscriptions; payments use inline price data.
	PriceID     string
	ProductName string
	Description string
	Amount      int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// Session is the gateway's answer to a checkout request.
type Session struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// Gateway is the outbound payment provider.
type Gateway interface {
	EnsureCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (Session, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// StripeGateway implements Gateway over the stripe-go client.
type StripeGateway struct {
	api *client.API
}

// StripeOption tweaks the stripe backend; tests point it at httptest servers.
type StripeOption func(*stripe.BackendConfig)

// WithBaseURL overrides the Stripe API endpoint.
func WithBaseURL(u string) StripeOption {
	return func(c *stripe.BackendConfig) { c.URL = stripe.String(u) }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) StripeOption {
	return func(c *stripe.BackendConfig) { c.HTTPClient = hc }
}

// NewStripeGateway builds a client bound to apiKey. Calls are not retried by
// the SDK; failures surface to the caller as ErrUpstream.
func NewStripeGateway(apiKey string, opts ...StripeOption) (*StripeGateway, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("payments: gateway api key is required")
	}
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(apiKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeGateway{api: api}, nil
}

func (g *StripeGateway) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", upstream("create customer", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(p.Mode)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.AccountID),
	}
	params.Context = ctx
	params.AddMetadata("userId", p.AccountID)
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	} else if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}

	switch p.Mode {
	case ModeSubscription:
		if p.PriceID == "" {
			return Session{}, fmt.Errorf("%w: subscription price is not configured", apperr.ErrUpstream)
		}
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(p.PriceID),
			Quantity: stripe.Int64(1),
		}}
	default:
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(p.ProductName)}
		if d := strings.TrimSpace(p.Description); d != "" {
			product.Description = stripe.String(d)
		}
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(p.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(p.Amount),
			},
			Quantity: stripe.Int64(1),
		}}
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"userId": p.AccountID},
		}
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, upstream("create checkout session", err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			// Already gone upstream.
			return nil
		}
		return upstream("cancel subscription", err)
	}
	return nil
}

func upstream(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return fmt.Errorf("%w: %s: %s (%s)", apperr.ErrUpstream, op, serr.Msg, serr.Code)
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrUpstream, op, err)
}
