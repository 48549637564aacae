package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tradepost.app/internal/account"
	"tradepost.app/internal/apidoc"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/catalog"
	"tradepost.app/internal/ledger"
	"tradepost.app/internal/match"
	"tradepost.app/internal/oauth"
	"tradepost.app/internal/obs"
	"tradepost.app/internal/payments"
	"tradepost.app/internal/subscription"
)

const serviceName = "tradepost-api"

// Pinger is anything the readiness probe can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings the store and the cache. Nil members are skipped.
type ReadyProbe struct {
	Store Pinger
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	if rp.Store != nil {
		if err := rp.Store.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deps are the services behind the HTTP surface. Google may be nil.
type Deps struct {
	Codec         *auth.Codec
	Accounts      *account.Service
	Catalog       *catalog.Service
	Matches       *match.Registry
	Orders        *ledger.Service
	Subscriptions *subscription.Service
	Webhooks      *payments.Verifier
	Google        *oauth.Google
	Ready         ReadyProbe
}

// Options tune the middleware stack.
type Options struct {
	Version         string
	AllowQueryToken bool
	CORSOrigins     []string
	RateLimitRPS    float64
	RateLimitBurst  int
	// SecureCookies marks the OAuth state cookie Secure.
	SecureCookies bool
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	opts   Options
	router chi.Router
}

func New(deps Deps, opts Options) *API {
	a := &API{deps: deps, opts: opts}
	a.router = a.routes()
	return a
}

// Handler returns the fully wrapped router.
func (a *API) Handler() http.Handler { return a.router }

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestContext, middleware.Recoverer)
	r.Use(accessLog, obs.Instrument, SecurityHeaders, CORS(a.opts.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/openapi.yaml", a.OpenAPISpec)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	// Deliveries from the gateway carry their own signature and must see
	// the raw body, so they skip rate limiting and authentication.
	r.Post("/v1/payments/webhook", a.paymentWebhook)

	r.Group(func(r chi.Router) {
		if a.opts.RateLimitRPS > 0 {
			r.Use(RateLimit(a.opts.RateLimitBurst, a.opts.RateLimitRPS))
		}
		r.Get("/v1/info", a.Info)
		r.Post("/v1/auth/register", a.register)
		r.Post("/v1/auth/login", a.login)
		r.Get("/v1/auth/google/login", a.googleLogin)
		r.Get("/v1/auth/google/callback", a.googleCallback)
		r.Get("/v1/listings", a.listListings)
		r.Get("/v1/listings/{id}", a.getListing)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Get("/v1/auth/profile", a.getProfile)
			r.Put("/v1/auth/profile", a.updateProfile)

			r.Post("/v1/listings", a.createListing)
			r.Put("/v1/listings/{id}", a.updateListing)
			r.Delete("/v1/listings/{id}", a.deleteListing)
			r.Post("/v1/listings/{id}/reactions", a.reactListing)

			r.Get("/v1/matches", a.listAllMatches)
			r.Post("/v1/matches/{id}", a.createMatch)
			r.Get("/v1/matches/{id}", a.listMatches)
			r.Post("/v1/matches/{id}/respond", a.respondMatch)

			r.Post("/v1/payments/checkout", a.checkout)
			r.Post("/v1/payments/subscribe", a.subscribe)
			r.Post("/v1/payments/cancel", a.cancelSubscription)
			r.Get("/v1/payments/orders", a.listOrders)
			r.Get("/v1/payments/subscription", a.subscriptionStatus)

			r.Group(func(r chi.Router) {
				r.Use(requireCapability(auth.CapAdmin))
				r.Get("/v1/admin/stats", a.adminStats)
				r.Get("/v1/admin/accounts", a.adminListAccounts)
				r.Delete("/v1/admin/accounts/{id}", a.adminDeleteAccount)
			})
		})
	})
	return r
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.From(r.Context()).Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(apidoc.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
