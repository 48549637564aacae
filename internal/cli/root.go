// Package cli implements tradectl, the operator tool for a running
// tradepost-api: sign-in, admin queries, dev tokens and webhook replay.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type globals struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

// NewRootCommand assembles the command tree. Output goes to the command's
// configured writer so tests can capture it.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "tradectl",
		Short:         "Operate a tradepost API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch g.output {
			case "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output %q (want json or yaml)", g.output)
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("TRADEPOST_SERVER", "http://localhost:8080"), "API base URL")
	pf.StringVar(&g.token, "token", os.Getenv("TRADEPOST_TOKEN"), "bearer token")
	pf.StringVarP(&g.output, "output", "o", "json", "output format: json or yaml")
	pf.DurationVar(&g.timeout, "timeout", 15*time.Second, "per-request timeout")

	root.AddCommand(
		newLoginCommand(g),
		newStatsCommand(g),
		newAccountsCommand(g),
		newTokenCommand(g),
		newWebhookCommand(g),
	)
	return root
}

func (g *globals) client() *Client {
	return NewClient(g.server, g.token, g.timeout)
}

func (g *globals) print(w io.Writer, v any) error {
	if g.output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
