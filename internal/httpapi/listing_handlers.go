package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tradepost.app/internal/catalog"
)

type reactionRequest struct {
	Reaction catalog.Reaction `json:"reaction"`
}

func (a *API) listListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt("limit", q.Get("limit"), catalog.DefaultLimit, 1, catalog.MaxLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f := catalog.Filter{
		Kind:    catalog.Kind(strings.TrimSpace(q.Get("kind"))),
		Genre:   strings.TrimSpace(q.Get("genre")),
		OwnerID: strings.TrimSpace(q.Get("owner")),
		Limit:   limit,
	}
	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "year must be an integer")
			return
		}
		f.Year = year
	}
	items, err := a.deps.Catalog.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) getListing(w http.ResponseWriter, r *http.Request) {
	l, err := a.deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) createListing(w http.ResponseWriter, r *http.Request) {
	var req catalog.Input
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	l, err := a.deps.Catalog.Create(r.Context(), principal(r), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/listings/"+l.ID)
	writeJSON(w, http.StatusCreated, l)
}

func (a *API) updateListing(w http.ResponseWriter, r *http.Request) {
	var req catalog.Input
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	l, err := a.deps.Catalog.Update(r.Context(), principal(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) deleteListing(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Catalog.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) reactListing(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	l, err := a.deps.Catalog.React(r.Context(), principal(r), chi.URLParam(r, "id"), req.Reaction)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
