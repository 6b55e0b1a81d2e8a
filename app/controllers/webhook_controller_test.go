package controllers_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (a *testApp) webhook(t *testing.T, path string, payload []byte, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func stripeSignature(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhook(t *testing.T) {
	a := newTestApp(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","amount_paid":1999,"currency":"usd"}}}`)
	headers := map[string]string{"Stripe-Signature": stripeSignature(payload, webhookSecret)}

	status, body := a.webhook(t, "/webhooks/stripe", payload, headers)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])

	status, body = a.webhook(t, "/webhooks/stripe", payload, headers)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])

	events := a.repo.WebhookEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].Processed)
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	a := newTestApp(t)
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)

	status, body := a.webhook(t, "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": stripeSignature(payload, "whsec_wrong")})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_webhook", body["error"])
	assert.Empty(t, a.repo.WebhookEvents())
}

func TestStripeWebhook_ProcessingErrorStillAcknowledged(t *testing.T) {
	a := newTestApp(t)
	payload := []byte(`{"id":"evt_3","object":"event","type":"customer.subscription.updated","data":{"object":{"status":"active"}}}`)

	status, body := a.webhook(t, "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": stripeSignature(payload, webhookSecret)})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])

	events := a.repo.WebhookEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Processed)
	assert.NotEmpty(t, events[0].Error)
}

func TestPayPalAndMercadoPagoWebhooks(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.webhook(t, "/webhooks/paypal", []byte(`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"S-1"}}`), nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.webhook(t, "/webhooks/mercadopago", []byte(`{"id":99,"type":"payment","data":{"id":"5"}}`), nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := a.webhook(t, "/webhooks/paypal", []byte(`{broken`), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_webhook", body["error"])

	assert.Len(t, a.repo.WebhookEvents(), 2)
}
