package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) createMatch(w http.ResponseWriter, r *http.Request) {
	m, err := a.deps.Matches.Create(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) listMatches(w http.ResponseWriter, r *http.Request) {
	out, err := a.deps.Matches.ListForOwner(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) listAllMatches(w http.ResponseWriter, r *http.Request) {
	out, err := a.deps.Matches.ListAllForOwner(r.Context(), principal(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) respondMatch(w http.ResponseWriter, r *http.Request) {
	m, err := a.deps.Matches.Respond(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
