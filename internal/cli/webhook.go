package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradepost.app/internal/ids"
	"tradepost.app/internal/payments"
)

// replayEvent describes a synthetic gateway event. Empty fields are left out
// of the object.
type replayEvent struct {
	ID             string
	Type           string
	SessionID      string
	CustomerID     string
	Email          string
	AccountID      string
	SubscriptionID string
	Status         string
	PaymentIntent  string
}

// object builds the data.object the webhook parser expects for e.Type.
func (e replayEvent) object() (map[string]any, error) {
	obj := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			obj[k] = v
		}
	}
	switch {
	case strings.HasPrefix(e.Type, "checkout.session."):
		if e.SessionID == "" {
			return nil, errors.New("--session is required for checkout.session events")
		}
		obj["object"] = "checkout.session"
		set("id", e.SessionID)
		set("customer", e.CustomerID)
		set("customer_email", e.Email)
		set("client_reference_id", e.AccountID)
		set("subscription", e.SubscriptionID)
		set("payment_intent", e.PaymentIntent)
	case strings.HasPrefix(e.Type, "customer.subscription."):
		if e.SubscriptionID == "" {
			return nil, errors.New("--subscription is required for customer.subscription events")
		}
		obj["object"] = "subscription"
		set("id", e.SubscriptionID)
		set("customer", e.CustomerID)
		set("status", e.Status)
	case strings.HasPrefix(e.Type, "payment_intent."):
		if e.PaymentIntent == "" {
			return nil, errors.New("--payment-intent is required for payment_intent events")
		}
		obj["object"] = "payment_intent"
		set("id", e.PaymentIntent)
		set("customer", e.CustomerID)
		set("receipt_email", e.Email)
		if e.AccountID != "" {
			obj["metadata"] = map[string]string{"userId": e.AccountID}
		}
	default:
		return nil, fmt.Errorf("unsupported event type %q", e.Type)
	}
	return obj, nil
}

func newWebhookCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Send signed gateway events to the webhook endpoint",
	}

	var (
		secret string
		file   string
		ev     replayEvent
	)
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Sign and deliver a gateway event",
		Long: `Deliver an event to /v1/payments/webhook signed with the shared webhook
secret. Either replay a captured payload with --file or describe the event
with flags.

Examples:
  tradectl webhook replay --type checkout.session.completed --session cs_1 --customer cus_1
  tradectl webhook replay --type customer.subscription.deleted --subscription sub_1 --customer cus_1
  tradectl webhook replay --file event.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret or TRADEPOST_WEBHOOK_SECRET is required")
			}
			var payload []byte
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				payload = raw
			} else {
				if ev.Type == "" {
					return errors.New("--type or --file is required")
				}
				if ev.ID == "" {
					ev.ID = "evt_" + strings.ToLower(ids.New())
				}
				obj, err := ev.object()
				if err != nil {
					return err
				}
				payload, err = payments.BuildEventPayload(ev.ID, ev.Type, obj)
				if err != nil {
					return err
				}
			}

			header := http.Header{}
			header.Set(payments.SignatureHeader, payments.SignPayload(payload, secret, time.Now()))
			var out map[string]any
			if err := g.client().Do(cmd.Context(), http.MethodPost, "/v1/payments/webhook", payload, &out, header); err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), out)
		},
	}
	f := replay.Flags()
	f.StringVar(&secret, "secret", envOr("TRADEPOST_WEBHOOK_SECRET", ""), "webhook signing secret")
	f.StringVar(&file, "file", "", "raw event payload to sign and send")
	f.StringVar(&ev.ID, "id", "", "event id (generated when empty)")
	f.StringVar(&ev.Type, "type", "", "event type, e.g. checkout.session.completed")
	f.StringVar(&ev.SessionID, "session", "", "checkout session id")
	f.StringVar(&ev.CustomerID, "customer", "", "gateway customer id")
	f.StringVar(&ev.Email, "email", "", "customer email")
	f.StringVar(&ev.AccountID, "account", "", "account id carried as client reference")
	f.StringVar(&ev.SubscriptionID, "subscription", "", "gateway subscription id")
	f.StringVar(&ev.Status, "status", "", "subscription status, e.g. active")
	f.StringVar(&ev.PaymentIntent, "payment-intent", "", "payment intent id")
	replay.MarkFlagsMutuallyExclusive("file", "type")

	cmd.AddCommand(replay)
	return cmd
}
