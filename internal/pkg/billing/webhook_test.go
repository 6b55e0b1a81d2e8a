package billing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signStripe(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, id, typ, object))
}

func (f *fixture) ingestStripe(t *testing.T, payload []byte) *WebhookOutcome {
	t.Helper()
	out, err := f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{
		Gateway:   models.GatewayStripe,
		Payload:   payload,
		Signature: signStripe(t, payload, testWebhookSecret),
	})
	require.NoError(t, err)
	return out
}

func TestIngest_StripeSubscriptionUpdated(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t)

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	obj := fmt.Sprintf(`{"id":%q,"object":"subscription","status":"past_due","current_period_start":%d,"current_period_end":%d}`,
		sub.GatewaySubscriptionID, start.Unix(), end.Unix())

	out := f.ingestStripe(t, stripeEvent("evt_1", "customer.subscription.updated", obj))
	assert.False(t, out.Duplicate)
	assert.NoError(t, out.ProcessingError)
	assert.True(t, out.Event.Processed)

	stored, err := f.repo.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, stored.Status)
	assert.True(t, stored.CurrentPeriodStart.Equal(start))
	assert.True(t, stored.CurrentPeriodEnd.Equal(end))
}

func TestIngest_StripePeriodsFromSubscriptionItems(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t)

	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	obj := fmt.Sprintf(`{"id":%q,"status":"active","items":{"data":[{"current_period_start":%d,"current_period_end":%d}]}}`,
		sub.GatewaySubscriptionID, end.AddDate(0, -1, 0).Unix(), end.Unix())
	f.ingestStripe(t, stripeEvent("evt_items", "customer.subscription.updated", obj))

	stored, err := f.repo.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentPeriodEnd.Equal(end))
}

func TestIngest_StripeSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t)

	obj := fmt.Sprintf(`{"id":%q,"status":"canceled"}`, sub.GatewaySubscriptionID)
	out := f.ingestStripe(t, stripeEvent("evt_del", "customer.subscription.deleted", obj))
	assert.True(t, out.Event.Processed)

	stored, err := f.repo.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, stored.Status)
	require.NotNil(t, stored.CanceledAt)
	assert.True(t, stored.CanceledAt.Equal(f.clock.Now()))
}

func TestIngest_DuplicateEventIsNotReprocessed(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t)

	obj := fmt.Sprintf(`{"id":%q,"status":"past_due"}`, sub.GatewaySubscriptionID)
	first := f.ingestStripe(t, stripeEvent("evt_dup", "customer.subscription.updated", obj))
	require.True(t, first.Event.Processed)

	// local change after the first delivery must survive the redelivery
	stored, err := f.repo.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	stored.Status = models.SubscriptionStatusActive
	require.NoError(t, f.repo.SaveSubscription(f.ctx, stored))

	second := f.ingestStripe(t, stripeEvent("evt_dup", "customer.subscription.updated", obj))
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)

	assert.Len(t, f.repo.WebhookEvents(), 1)
	stored, err = f.repo.GetSubscription(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, stored.Status)
}

func TestIngest_StripeBadSignatureIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	payload := stripeEvent("evt_bad", "customer.subscription.updated", `{"id":"sub_1"}`)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing header", signature: ""},
		{name: "wrong secret", signature: signStripe(t, payload, "whsec_other")},
		{name: "garbage", signature: "t=1,v1=deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{Gateway: "stripe", Payload: payload, Signature: tt.signature})
			require.Error(t, err)
			assert.True(t, IsKind(err, KindAuthentication))
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
	assert.Empty(t, f.repo.WebhookEvents())
}

func TestIngest_HandlerFailureIsRecorded(t *testing.T) {
	f := newFixture(t)

	out := f.ingestStripe(t, stripeEvent("evt_broken", "customer.subscription.updated", `{"object":"subscription","status":"active"}`))
	require.Error(t, out.ProcessingError)
	assert.True(t, IsKind(out.ProcessingError, KindReconciliation))

	events := f.repo.WebhookEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Processed)
	assert.Nil(t, events[0].ProcessedAt)
	assert.Contains(t, events[0].Error, "subscription id missing")
	assert.False(t, out.Event.Processed)
	assert.Nil(t, out.Event.ProcessedAt)
}

func TestIngest_UnknownSubscriptionAndTypesSucceed(t *testing.T) {
	f := newFixture(t)

	out := f.ingestStripe(t, stripeEvent("evt_unknown_sub", "customer.subscription.updated", `{"id":"sub_nowhere","status":"active"}`))
	assert.True(t, out.Event.Processed)

	out = f.ingestStripe(t, stripeEvent("evt_charge", "charge.refunded", `{"id":"ch_1"}`))
	assert.True(t, out.Event.Processed)
	assert.Equal(t, "charge.refunded", out.Event.EventType)

	out = f.ingestStripe(t, stripeEvent("evt_inv", "invoice.payment_failed", `{"id":"in_1","amount_due":1999,"currency":"usd"}`))
	assert.True(t, out.Event.Processed)
}

func TestIngest_PayPalAndMercadoPago(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{
		Gateway: "paypal",
		Payload: []byte(`{"id":"WH-123","event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":"I-ABC","status":"CANCELLED"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "WH-123", out.Event.EventID)
	assert.True(t, out.Event.Processed)

	out, err = f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{
		Gateway: "mercadopago",
		Payload: []byte(`{"id":12345678901,"type":"payment","action":"payment.created","data":{"id":"987"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "12345678901", out.Event.EventID)
	assert.Equal(t, "payment", out.Event.EventType)
	assert.Equal(t, "987", objectField(out.Event.Payload, "data")["id"])
}

func TestIngest_MercadoPagoSubscriptionEventNamesLocalSubscription(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	customer := &models.PaymentCustomer{UserID: 1, Gateway: models.GatewayMercadoPago, GatewayCustomerID: "mp_cus_1", Email: "a@x.com"}
	require.NoError(t, f.repo.CreateCustomer(f.ctx, customer))
	plan := &models.PaymentPlan{Gateway: models.GatewayMercadoPago, GatewayPlanID: "mp_plan_1", Name: "Pro", Amount: decimal.RequireFromString("10"), Currency: "BRL", Interval: models.PlanIntervalMonth, IntervalCount: 1, Active: true}
	require.NoError(t, f.repo.CreatePlan(f.ctx, plan))
	sub := &models.PaymentSubscription{PaymentCustomerID: customer.ID, PaymentPlanID: plan.ID, Gateway: models.GatewayMercadoPago, GatewaySubscriptionID: "PRE-1", Status: models.SubscriptionStatusActive}
	require.NoError(t, f.repo.CreateSubscription(f.ctx, sub))

	out, err := f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{
		Gateway: models.GatewayMercadoPago,
		Payload: []byte(`{"id":555,"type":"subscription_preapproval","action":"updated","data":{"id":"PRE-1"}}`),
	})
	require.NoError(t, err)
	require.Nil(t, out.ProcessingError)
	assert.True(t, out.Event.Processed)
	assert.Contains(t, logs.String(), fmt.Sprintf(`"subscription_id":%d`, sub.ID))

	logs.Reset()
	out, err = f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{
		Gateway: models.GatewayMercadoPago,
		Payload: []byte(`{"id":556,"type":"preapproval","action":"updated","data":{"id":"PRE-unknown"}}`),
	})
	require.NoError(t, err)
	assert.True(t, out.Event.Processed)
	assert.Contains(t, logs.String(), `"subscription_id":null`)
}

func TestIngest_MissingEventIDsAreSynthesized(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"type":"payment","data":{"id":"1"}}`)

	first, err := f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{Gateway: "mercadopago", Payload: payload})
	require.NoError(t, err)
	second, err := f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{Gateway: "mercadopago", Payload: payload})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.Event.EventID, "mercadopago_"))
	assert.NotEqual(t, first.Event.EventID, second.Event.EventID)
	assert.False(t, second.Duplicate)
	assert.Len(t, f.repo.WebhookEvents(), 2)
}

func TestIngest_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{Gateway: "paypal", Payload: []byte(`not json`)})
	assert.True(t, IsKind(err, KindAuthentication))

	_, err = f.svc.Webhooks.Ingest(f.ctx, WebhookDelivery{Gateway: "square", Payload: []byte(`{}`)})
	assert.True(t, IsKind(err, KindConfiguration))

	assert.Empty(t, f.repo.WebhookEvents())
}
