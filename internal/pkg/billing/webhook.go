package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ActionKind is the work a provider event asks for.
type ActionKind string

const (
	ActionNone          ActionKind = "none"
	ActionSyncCatalog   ActionKind = "sync_catalog"
	ActionReconcile     ActionKind = "reconcile_subscription"
	ActionRecordPayment ActionKind = "record_payment"
)

// EventAction is the decoded, transport-neutral form of a provider event.
type EventAction struct {
	Kind           ActionKind    `json:"kind"`
	EventID        string        `json:"event_id,omitempty"`
	EventType      string        `json:"event_type,omitempty"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty"`
	Payment        *PaymentInput `json:"payment,omitempty"`
}

// VerifyWebhook checks the signature header and decodes the event.
func VerifyWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// ActionForEvent maps a verified event to the action it requires. Unknown
// event types map to ActionNone.
func ActionForEvent(event *stripe.Event) (EventAction, error) {
	action := EventAction{Kind: ActionNone, EventID: event.ID, EventType: string(event.Type)}
	if event.Data == nil {
		return action, nil
	}

	switch string(event.Type) {
	case "product.created", "product.updated", "product.deleted",
		"price.created", "price.updated", "price.deleted":
		action.Kind = ActionSyncCatalog

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return action, fmt.Errorf("decode subscription: %w", err)
		}
		action.Kind = ActionReconcile
		action.SubscriptionID = sub.ID
		if sub.Customer != nil {
			action.CustomerID = sub.Customer.ID
		}

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return action, fmt.Errorf("decode checkout.session: %w", err)
		}
		if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil {
			return action, nil
		}
		action.Kind = ActionReconcile
		action.SubscriptionID = session.Subscription.ID
		if session.Customer != nil {
			action.CustomerID = session.Customer.ID
		}

	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return action, fmt.Errorf("decode payment_intent: %w", err)
		}
		if pi.Customer == nil || pi.Customer.ID == "" {
			return action, nil
		}
		action.Kind = ActionRecordPayment
		action.CustomerID = pi.Customer.ID
		action.Payment = &PaymentInput{
			PaymentIntentID: pi.ID,
			CustomerID:      pi.Customer.ID,
			Amount:          pi.Amount,
			Currency:        string(pi.Currency),
			Status:          string(pi.Status),
			Metadata:        pi.Metadata,
		}
	}

	if action.Kind == ActionReconcile && (strings.TrimSpace(action.SubscriptionID) == "" || strings.TrimSpace(action.CustomerID) == "") {
		return action, fmt.Errorf("event %s is missing subscription or customer id", event.ID)
	}
	return action, nil
}

// Perform executes an action inline.
func (s *Service) Perform(ctx context.Context, action EventAction) error {
	switch action.Kind {
	case ActionSyncCatalog:
		return s.SyncCatalog(ctx, true)
	case ActionReconcile:
		return s.ReconcileSubscription(ctx, action.SubscriptionID, action.CustomerID)
	case ActionRecordPayment:
		if action.Payment == nil {
			return nil
		}
		_, err := s.RecordPayment(ctx, *action.Payment)
		return err
	default:
		return nil
	}
}
