// Package subscription drives an account's INACTIVE/ACTIVE lifecycle from
// checkout requests and gateway webhook deliveries.
package subscription

// State is the subscription state of one account.
type State string

const (
	Inactive State = "INACTIVE"
	Active   State = "ACTIVE"
)

// StateOf maps the persisted flag to a State.
func StateOf(active bool) State {
	if active {
		return Active
	}
	return Inactive
}

// Trigger is an event that may move the state.
type Trigger string

const (
	TriggerCheckoutCompleted   Trigger = "checkout_completed"
	TriggerUpstreamActive      Trigger = "upstream_active"
	TriggerUpstreamInactive    Trigger = "upstream_inactive"
	TriggerSubscriptionDeleted Trigger = "subscription_deleted"
	TriggerCancelRequested     Trigger = "cancel_requested"
)

// Next returns the state after t. Every trigger names an absolute target, so
// applying the same trigger twice, or replaying it later, lands in the same
// state. Unknown triggers leave the state unchanged.
func Next(s State, t Trigger) State {
	switch t {
	case TriggerCheckoutCompleted, TriggerUpstreamActive:
		return Active
	case TriggerUpstreamInactive, TriggerSubscriptionDeleted, TriggerCancelRequested:
		return Inactive
	default:
		return s
	}
}
