package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tradepost.app/internal/auth"
)

func newLoginCommand(g *globals) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password and print the session",
		Long: `Sign in against /v1/auth/login. The returned token can be exported as
TRADEPOST_TOKEN for the admin commands.

Examples:
  tradectl login --email ops@example.com
  export TRADEPOST_TOKEN=$(tradectl login --email ops@example.com -o json | jq -r .token)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				pw, err := readPassword(cmd)
				if err != nil {
					return err
				}
				password = pw
			}
			var out map[string]any
			err := g.client().Do(cmd.Context(), http.MethodPost, "/v1/auth/login",
				map[string]string{"email": email, "password": password}, &out, nil)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func newStatsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show account, listing and order counts (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := g.client().Do(cmd.Context(), http.MethodGet, "/v1/admin/stats", nil, &out, nil); err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), out)
		},
	}
}

func newAccountsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and remove accounts (admin)",
	}

	var role string
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts, optionally filtered by role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/admin/accounts"
			if role != "" {
				if _, err := auth.ParseRole(role); err != nil {
					return err
				}
				path += "?role=" + url.QueryEscape(role)
			}
			var out []map[string]any
			if err := g.client().Do(cmd.Context(), http.MethodGet, path, nil, &out, nil); err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), out)
		},
	}
	list.Flags().StringVar(&role, "role", "", "only accounts with this role")

	del := &cobra.Command{
		Use:   "delete <account-id>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteAccount(cmd.Context(), g.client(), args[0])
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func deleteAccount(ctx context.Context, c *Client, id string) error {
	return c.Do(ctx, http.MethodDelete, "/v1/admin/accounts/"+url.PathEscape(id), nil, nil, nil)
}
