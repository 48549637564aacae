package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tradepost.app/internal/account"
	"tradepost.app/internal/catalog"
	"tradepost.app/internal/ledger"
)

type statsResponse struct {
	Accounts account.Stats         `json:"accounts"`
	Listings map[catalog.Kind]int  `json:"listings"`
	Orders   map[ledger.Status]int `json:"orders"`
}

func (a *API) adminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accts, err := a.deps.Accounts.Stats(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	listings, err := a.deps.Catalog.Counts(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	orders, err := a.deps.Orders.Counts(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Accounts: accts, Listings: listings, Orders: orders})
}

func (a *API) adminListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := a.deps.Accounts.List(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if accts == nil {
		accts = []account.Account{}
	}
	writeJSON(w, http.StatusOK, accts)
}

func (a *API) adminDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Accounts.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
