package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/MemberVault/app/models"
)

const testWebhookSecret = "whsec_test_secret"

func eventPayload(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2020-08-27","data":{"object":%s}}`, id, eventType, object))
}

func signedEvent(t *testing.T, payload []byte) stripe.Event {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	event, err := VerifyWebhook(signed.Payload, signed.Header, testWebhookSecret)
	require.NoError(t, err)
	return event
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	payload := eventPayload("evt_1", "product.updated", `{"id":"prod_A","object":"product"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})

	_, err := VerifyWebhook(signed.Payload, signed.Header, testWebhookSecret)
	assert.Error(t, err)

	_, err = VerifyWebhook(payload, "", testWebhookSecret)
	assert.Error(t, err)
}

func TestActionForEvent(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		object    string
		want      EventAction
	}{
		{
			name:      "product change",
			eventType: "product.updated",
			object:    `{"id":"prod_A","object":"product"}`,
			want:      EventAction{Kind: ActionSyncCatalog},
		},
		{
			name:      "price removed",
			eventType: "price.deleted",
			object:    `{"id":"price_A","object":"price"}`,
			want:      EventAction{Kind: ActionSyncCatalog},
		},
		{
			name:      "subscription updated",
			eventType: "customer.subscription.updated",
			object:    `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active"}`,
			want:      EventAction{Kind: ActionReconcile, SubscriptionID: "sub_1", CustomerID: "cus_1"},
		},
		{
			name:      "subscription deleted",
			eventType: "customer.subscription.deleted",
			object:    `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled"}`,
			want:      EventAction{Kind: ActionReconcile, SubscriptionID: "sub_1", CustomerID: "cus_1"},
		},
		{
			name:      "subscription checkout",
			eventType: "checkout.session.completed",
			object:    `{"id":"cs_1","object":"checkout.session","mode":"subscription","subscription":"sub_9","customer":"cus_9"}`,
			want:      EventAction{Kind: ActionReconcile, SubscriptionID: "sub_9", CustomerID: "cus_9"},
		},
		{
			name:      "one-off checkout",
			eventType: "checkout.session.completed",
			object:    `{"id":"cs_2","object":"checkout.session","mode":"payment","customer":"cus_9"}`,
			want:      EventAction{Kind: ActionNone},
		},
		{
			name:      "payment succeeded",
			eventType: "payment_intent.succeeded",
			object:    `{"id":"pi_1","object":"payment_intent","customer":"cus_1","amount":999,"currency":"usd","status":"succeeded","metadata":{"subscription_id":"sub_1"}}`,
			want: EventAction{Kind: ActionRecordPayment, CustomerID: "cus_1", Payment: &PaymentInput{
				PaymentIntentID: "pi_1",
				CustomerID:      "cus_1",
				Amount:          999,
				Currency:        "usd",
				Status:          "succeeded",
				Metadata:        map[string]string{"subscription_id": "sub_1"},
			}},
		},
		{
			name:      "guest payment",
			eventType: "payment_intent.succeeded",
			object:    `{"id":"pi_2","object":"payment_intent","amount":5,"currency":"usd","status":"succeeded"}`,
			want:      EventAction{Kind: ActionNone},
		},
		{
			name:      "unhandled",
			eventType: "invoice.created",
			object:    `{"id":"in_1","object":"invoice"}`,
			want:      EventAction{Kind: ActionNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := signedEvent(t, eventPayload("evt_"+tt.name, tt.eventType, tt.object))

			got, err := ActionForEvent(&event)
			require.NoError(t, err)

			tt.want.EventID = "evt_" + tt.name
			tt.want.EventType = tt.eventType
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionForEventRequiresSubscriptionIdentifiers(t *testing.T) {
	event := signedEvent(t, eventPayload("evt_bad", "customer.subscription.updated", `{"id":"sub_1","object":"subscription","status":"active"}`))

	_, err := ActionForEvent(&event)
	assert.Error(t, err)
}

func TestPerformReconcilesFromWebhook(t *testing.T) {
	f := newFixture()
	f.seedCatalog("50")
	f.seedSubscriber(models.ROLE_USER, stripe.SubscriptionStatusActive)
	ctx := context.Background()

	event := signedEvent(t, eventPayload("evt_1", "customer.subscription.created", `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active"}`))
	action, err := ActionForEvent(&event)
	require.NoError(t, err)
	require.NoError(t, f.svc.Perform(ctx, action))

	u := f.repo.user(1)
	assert.Equal(t, models.ROLE_PREMIUM, u.Role)
	assert.EqualValues(t, 50, u.Tokens)

	f.provider.setStatus("sub_1", stripe.SubscriptionStatusCanceled)
	event = signedEvent(t, eventPayload("evt_2", "customer.subscription.deleted", `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled"}`))
	action, err = ActionForEvent(&event)
	require.NoError(t, err)
	require.NoError(t, f.svc.Perform(ctx, action))

	u = f.repo.user(1)
	assert.Equal(t, models.ROLE_USER, u.Role)
	assert.Equal(t, models.MEMBERSHIP_INACTIVE, u.MembershipStatus)
}

func TestPerformCatalogEventForcesSync(t *testing.T) {
	f := newFixture()
	f.provider.products, f.provider.prices = remoteCatalog()
	ctx := context.Background()
	require.NoError(t, f.svc.SyncCatalog(ctx, false))

	require.NoError(t, f.svc.Perform(ctx, EventAction{Kind: ActionSyncCatalog}))
	assert.Equal(t, 2, f.provider.catalogCalls)

	require.NoError(t, f.svc.Perform(ctx, EventAction{Kind: ActionNone}))
	assert.Equal(t, 2, f.provider.catalogCalls)
}

func TestRecordWebhookEventIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	in := WebhookEventInput{Provider: " Stripe ", ProviderEventID: "evt_1", EventType: "product.updated", PayloadJSON: "{}", SignatureValid: true}

	created, first, err := f.svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.BillingProviderStripe, first.Provider)

	created, again, err := f.svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, f.svc.MarkWebhookProcessed(ctx, first.ID, assert.AnError))
	stored := f.repo.events["stripe/evt_1"]
	assert.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, assert.AnError.Error(), stored.ProcessingError)
}

func TestRecordWebhookEventHashesMissingID(t *testing.T) {
	f := newFixture()

	_, ev, err := f.svc.RecordWebhookEvent(context.Background(), WebhookEventInput{Provider: "stripe", PayloadJSON: `{"a":1}`})
	require.NoError(t, err)
	assert.Contains(t, ev.ProviderEventID, "hash:")

	_, _, err = f.svc.RecordWebhookEvent(context.Background(), WebhookEventInput{})
	assert.Error(t, err)
}
