package httpapi

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"tradepost.app/internal/ledger"
	"tradepost.app/internal/obs"
	"tradepost.app/internal/payments"
	"tradepost.app/internal/subscription"
)

const maxWebhookBody = 1 << 20

func (a *API) checkout(w http.ResponseWriter, r *http.Request) {
	var req subscription.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.deps.Subscriptions.Checkout(r.Context(), principal(r), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	out, err := a.deps.Subscriptions.Subscribe(r.Context(), principal(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	view, err := a.deps.Subscriptions.Cancel(r.Context(), principal(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.deps.Subscriptions.Status(r.Context(), principal(r).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.deps.Subscriptions.Orders(r.Context(), principal(r).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if orders == nil {
		orders = []ledger.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// paymentWebhook verifies the signature over the raw body before anything
// else. A bad signature is answered with 400 without touching any store;
// transient failures return 500 so the gateway redelivers.
func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable body")
		return
	}
	evt, err := a.deps.Webhooks.Parse(body, r.Header.Get(payments.SignatureHeader))
	if err != nil {
		obs.WebhookEvent("", "rejected")
		obs.From(r.Context()).Warn("webhook rejected", zap.Error(err))
		if errors.Is(err, payments.ErrInvalidSignature) {
			writeError(w, r, http.StatusBadRequest, "invalid signature")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid event")
		return
	}

	outcome, err := a.deps.Subscriptions.Apply(r.Context(), evt)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "event not processed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"outcome":  outcome,
	})
}
