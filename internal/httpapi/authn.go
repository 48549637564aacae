package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tradepost.app/internal/auth"
	"tradepost.app/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate resolves the bearer credential into a Principal. It never
// touches the store; a missing or invalid token ends the request with 401.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := a.credential(r)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		principal, err := a.deps.Codec.Verify(token)
		if err != nil {
			obs.From(r.Context()).Debug("token rejected", zap.Error(err))
			unauthorized(w, r, "invalid token")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = obs.ToContext(ctx, obs.From(ctx).With(
			zap.String("principal_id", principal.ID),
			zap.String("principal_role", string(principal.Role)),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) credential(r *http.Request) (string, error) {
	header := r.Header.Get(authHeader)
	if strings.TrimSpace(header) == "" && a.opts.AllowQueryToken {
		if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
			return tok, nil
		}
	}
	return extractBearerToken(header)
}

// requireCapability denies principals lacking c with 403. A request without
// a principal is 401.
func requireCapability(c auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "missing bearer token")
				return
			}
			if err := auth.Authorize(p, c); err != nil {
				writeDomainError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// principal returns the caller; only valid behind authenticate.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tradepost"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
