package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"tradepost.app/internal/auth"
)

type mintedToken struct {
	Token     string    `json:"token" yaml:"token"`
	Subject   string    `json:"subject" yaml:"subject"`
	Role      auth.Role `json:"role" yaml:"role"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

func newTokenCommand(g *globals) *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for local development",
		Long: `Mint a token with the server's signing secret without going through
login. The subject need not exist; requests that load the account will fail
with 404 in that case.

Examples:
  tradectl token --subject 01J... --role admin --secret "$TRADEPOST_TOKEN_SECRET"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret or TRADEPOST_TOKEN_SECRET is required")
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			codec, err := auth.NewCodec(secret, auth.WithIssuer(issuer), auth.WithTTL(ttl))
			if err != nil {
				return err
			}
			tok, exp, err := codec.Mint(subject, r)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), mintedToken{Token: tok, Subject: subject, Role: r, ExpiresAt: exp})
		},
	}
	f := cmd.Flags()
	f.StringVar(&secret, "secret", envOr("TRADEPOST_TOKEN_SECRET", ""), "token signing secret")
	f.StringVar(&issuer, "issuer", "tradepost", "token issuer")
	f.StringVar(&subject, "subject", "", "account id to embed")
	f.StringVar(&role, "role", string(auth.RoleUser), "role to embed")
	f.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
