package controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway/gatewaytest"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_controller"

type testApp struct {
	app    *fiber.App
	repo   *billing.MemoryRepository
	stripe *gatewaytest.Fake
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	repo := billing.NewMemoryRepository()
	stripe := gatewaytest.New("stripe")
	registry, err := gateway.NewRegistry(stripe, gatewaytest.New("paypal"))
	require.NoError(t, err)

	services := billing.NewServices(repo, registry, cache.NewMemoryCache(), billing.Options{StripeWebhookSecret: webhookSecret})
	app := fiber.New()
	router.InstallRouter(app,
		controllers.NewPaymentController(services, registry, 5*time.Second),
		controllers.NewWebhookController(services.Webhooks, 5*time.Second),
		nil,
	)
	return &testApp{app: app, repo: repo, stripe: stripe}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func idOf(t *testing.T, m map[string]any) uint {
	t.Helper()
	id, ok := m["id"].(float64)
	require.True(t, ok, "response has no id: %v", m)
	return uint(id)
}

func (a *testApp) createCustomer(t *testing.T, userID uint, gatewayName string) uint {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/v1/customers", fiber.Map{
		"user_id": userID, "email": "user@example.com", "name": "User", "gateway": gatewayName,
	})
	require.Equal(t, http.StatusCreated, status, "%v", body)
	return idOf(t, body)
}

func (a *testApp) createPlan(t *testing.T, gatewayName string) uint {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/v1/plans", fiber.Map{
		"gateway": gatewayName, "name": "Pro", "amount": "19.99", "currency": "usd", "interval": "month",
	})
	require.Equal(t, http.StatusCreated, status, "%v", body)
	return idOf(t, body)
}

func TestListGateways(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, http.MethodGet, "/api/v1/gateways", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"paypal", "stripe"}, body["gateways"])
}

func TestCreateCustomerEndpoint(t *testing.T) {
	a := newTestApp(t)
	payload := fiber.Map{"user_id": 1, "email": "a@x.com", "name": "Alice", "gateway": "stripe"}

	status, body := a.do(t, http.MethodPost, "/api/v1/customers", payload)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "stripe", body["gateway"])
	assert.NotEmpty(t, body["gateway_customer_id"])

	status, body = a.do(t, http.MethodPost, "/api/v1/customers", payload)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["error"])
}

func TestCreateCustomerEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   fiber.Map
		status int
	}{
		{name: "missing email", body: fiber.Map{"user_id": 1, "name": "A", "gateway": "stripe"}, status: http.StatusUnprocessableEntity},
		{name: "unknown gateway", body: fiber.Map{"user_id": 1, "email": "a@x.com", "name": "A", "gateway": "square"}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t)
			status, body := a.do(t, http.MethodPost, "/api/v1/customers", tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRemoteFailureIsBadGateway(t *testing.T) {
	a := newTestApp(t)
	a.stripe.FailWith = "api unavailable"

	status, body := a.do(t, http.MethodPost, "/api/v1/customers", fiber.Map{"user_id": 1, "email": "a@x.com", "name": "A", "gateway": "stripe"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["message"], "api unavailable")
}

func TestCardEndpoints(t *testing.T) {
	a := newTestApp(t)
	customerID := a.createCustomer(t, 1, "stripe")
	cardsPath := fmt.Sprintf("/api/v1/customers/%d/cards", customerID)

	status, first := a.do(t, http.MethodPost, cardsPath, fiber.Map{"token": "tok_1", "set_as_default": true})
	require.Equal(t, http.StatusCreated, status)
	status, second := a.do(t, http.MethodPost, cardsPath, fiber.Map{"token": "tok_2", "set_as_default": true})
	require.Equal(t, http.StatusCreated, status)

	status, list := a.do(t, http.MethodGet, cardsPath, nil)
	require.Equal(t, http.StatusOK, status)
	cards := list["cards"].([]any)
	require.Len(t, cards, 2)
	assert.Equal(t, float64(idOf(t, second)), cards[0].(map[string]any)["id"])
	assert.Equal(t, true, cards[0].(map[string]any)["is_default"])
	assert.Equal(t, false, cards[1].(map[string]any)["is_default"])

	status, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cards/%d/default", idOf(t, first)), nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/cards/%d", idOf(t, second)), nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/cards/%d", idOf(t, second)), nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = a.do(t, http.MethodPost, cardsPath, fiber.Map{"token": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestPlanEndpoints(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, http.MethodPost, "/api/v1/plans", fiber.Map{
		"gateway": "stripe", "name": "Odd", "amount": 5, "interval": "fortnight",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body["message"], "interval")
	assert.Zero(t, a.stripe.Calls("create_plan"))

	planID := a.createPlan(t, "stripe")
	a.createPlan(t, "paypal")

	status, body = a.do(t, http.MethodGet, "/api/v1/plans?gateway=stripe", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["plans"], 1)

	status, body = a.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/plans/%d", planID), fiber.Map{"active": false})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["active"])

	status, body = a.do(t, http.MethodGet, "/api/v1/plans", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["plans"], 1)
}

func TestSubscriptionEndpoints(t *testing.T) {
	a := newTestApp(t)
	customerID := a.createCustomer(t, 1, "stripe")
	planID := a.createPlan(t, "stripe")
	paypalPlanID := a.createPlan(t, "paypal")

	status, body := a.do(t, http.MethodPost, "/api/v1/subscriptions", fiber.Map{"customer_id": customerID, "plan_id": paypalPlanID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["message"], "different gateways")

	status, body = a.do(t, http.MethodPost, "/api/v1/subscriptions", fiber.Map{"customer_id": customerID, "plan_id": planID})
	require.Equal(t, http.StatusCreated, status)
	subID := idOf(t, body)
	assert.Equal(t, "active", body["status"])

	status, _ = a.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/subscriptions/%d", subID), fiber.Map{})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	cancelPath := fmt.Sprintf("/api/v1/subscriptions/%d/cancel", subID)
	status, first := a.do(t, http.MethodPost, cancelPath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "canceled", first["status"])

	status, second := a.do(t, http.MethodPost, cancelPath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["canceled_at"], second["canceled_at"])
	assert.Equal(t, 1, a.stripe.Calls("cancel_subscription"))
}

func TestPaymentLinkEndpoints(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodPost, "/api/v1/payment-links", fiber.Map{"gateway": "paypal", "amount": 0, "description": "Free?"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, body := a.do(t, http.MethodPost, "/api/v1/payment-links", fiber.Map{"gateway": "paypal", "amount": "49.00", "description": "Workshop"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "active", body["status"])
	assert.NotEmpty(t, body["url"])

	status, body = a.do(t, http.MethodGet, "/api/v1/payment-links?gateway=paypal", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["payment_links"], 1)
}

func TestInvalidIDs(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodGet, "/api/v1/customers/abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = a.do(t, http.MethodGet, "/api/v1/customers/42", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
