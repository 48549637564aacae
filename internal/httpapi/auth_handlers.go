package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"tradepost.app/internal/account"
	"tradepost.app/internal/oauth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const (
	oauthStateCookie = "tradepost_oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.deps.Accounts.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.deps.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	acct, err := a.deps.Accounts.Profile(r.Context(), principal(r).ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req account.ProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.deps.Accounts.UpdateProfile(r.Context(), principal(r).ID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) googleLogin(w http.ResponseWriter, r *http.Request) {
	if a.deps.Google == nil {
		writeError(w, r, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	state, err := oauth.NewState()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/v1/auth/google",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.deps.Google.AuthCodeURL(state), http.StatusFound)
}

func (a *API) googleCallback(w http.ResponseWriter, r *http.Request) {
	if a.deps.Google == nil {
		writeError(w, r, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, r, http.StatusBadRequest, "google sign-in failed: "+e)
		return
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" ||
		subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(q.Get("state"))) != 1 {
		writeError(w, r, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/v1/auth/google", MaxAge: -1})

	id, err := a.deps.Google.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, err := a.deps.Accounts.LoginOAuth(r.Context(), id.Email, id.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
