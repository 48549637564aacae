// Package oauth implements Google sign-in with the authorization code flow.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"tradepost.app/internal/apperr"
)

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Identity is what the provider vouches for after a successful exchange.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

type Google struct {
	cfg         *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

type Option func(*Google)

// WithEndpoint points the flow at another authorization server (tests).
func WithEndpoint(ep oauth2.Endpoint, userInfoURL string) Option {
	return func(g *Google) {
		g.cfg.Endpoint = ep
		g.userInfoURL = userInfoURL
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(g *Google) { g.httpClient = hc }
}

func NewGoogle(clientID, clientSecret, redirectURL string, opts ...Option) *Google {
	g := &Google{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: defaultUserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthCodeURL is the consent page the browser is redirected to.
func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for the user's verified identity.
func (g *Google) Exchange(ctx context.Context, code string) (Identity, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Identity{}, fmt.Errorf("%w: missing authorization code", apperr.ErrValidation)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: google code exchange: %v", apperr.ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := g.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: google userinfo: %v", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: google userinfo status %d", apperr.ErrUpstream, resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("%w: decode userinfo: %v", apperr.ErrUpstream, err)
	}
	if id.Email == "" {
		return Identity{}, fmt.Errorf("%w: google account has no email", apperr.ErrValidation)
	}
	if !id.EmailVerified {
		return Identity{}, fmt.Errorf("%w: google email is not verified", apperr.ErrUnauthenticated)
	}
	if id.Name == "" {
		id.Name = strings.SplitN(id.Email, "@", 2)[0]
	}
	return id, nil
}

// NewState returns an unguessable value for the state parameter.
func NewState() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
