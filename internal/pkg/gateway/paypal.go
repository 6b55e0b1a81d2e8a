package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/google/uuid"
)

const (
	DefaultPayPalBaseURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveBaseURL    = "https://api-m.paypal.com"
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AppURL       string
	Timeout      time.Duration
}

// PayPalGateway talks to the PayPal REST API. PayPal has no customer object
// in the billing API, so customers and cards are synthesized locally.
type PayPalGateway struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AppURL       string

	HTTPClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// paypalError is the error body returned by the REST API.
type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func NewPayPalGateway(cfg PayPalConfig) *PayPalGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultPayPalBaseURL
	}
	return &PayPalGateway{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		BaseURL:      base,
		AppURL:       strings.TrimRight(cfg.AppURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

func (g *PayPalGateway) GatewayName() string { return models.GatewayPayPal }

// CreateCustomer derives a stable id from the email; nothing is sent to PayPal.
func (g *PayPalGateway) CreateCustomer(ctx context.Context, req CreateCustomerRequest) CustomerResult {
	req = req.Normalize()
	if err := ValidateStruct(req); err != nil {
		return CustomerResult{Result: validationFailure(err)}
	}
	sum := md5.Sum([]byte(strings.ToLower(req.Email)))
	id := "paypal_" + hex.EncodeToString(sum[:])
	return CustomerResult{
		Result:            succeeded(map[string]any{"id": id, "email": req.Email, "name": req.Name}),
		GatewayCustomerID: id,
	}
}

func (g *PayPalGateway) UpdateCustomer(ctx context.Context, gatewayCustomerID string, req UpdateCustomerRequest) Result {
	if strings.TrimSpace(gatewayCustomerID) == "" {
		return validationFailure(errors.New("customer_id is required"))
	}
	if err := ValidateStruct(req); err != nil {
		return validationFailure(err)
	}
	return succeeded(map[string]any{"id": gatewayCustomerID})
}

// CreateCard records a vault placeholder. Payers approve PayPal funding at
// checkout, so there is no card to attach server-side.
func (g *PayPalGateway) CreateCard(ctx context.Context, gatewayCustomerID string, req CreateCardRequest) CardResult {
	if strings.TrimSpace(gatewayCustomerID) == "" {
		return CardResult{Result: validationFailure(errors.New("customer_id is required"))}
	}
	if err := ValidateStruct(req); err != nil {
		return CardResult{Result: validationFailure(err)}
	}
	id := "paypal_card_" + uuid.NewString()
	return CardResult{
		Result:        succeeded(map[string]any{"id": id, "token": req.Token}),
		GatewayCardID: id,
		Brand:         "paypal",
		LastFour:      "0000",
		ExpMonth:      12,
		ExpYear:       g.now().Year() + 5,
	}
}

// CreatePlan creates a catalog product and an active billing plan on it.
func (g *PayPalGateway) CreatePlan(ctx context.Context, req CreatePlanRequest) PlanResult {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return PlanResult{Result: validationFailure(err)}
	}

	var prod struct {
		ID string `json:"id"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/v1/catalogs/products", map[string]any{
		"name": req.Name,
		"type": "SERVICE",
	}, &prod); err != nil {
		return PlanResult{Result: g.failure("create_plan", err)}
	}

	body := map[string]any{
		"product_id": prod.ID,
		"name":       req.Name,
		"status":     "ACTIVE",
		"billing_cycles": []map[string]any{{
			"frequency": map[string]any{
				"interval_unit":  strings.ToUpper(req.Interval),
				"interval_count": req.IntervalCount,
			},
			"tenure_type":  "REGULAR",
			"sequence":     1,
			"total_cycles": 0,
			"pricing_scheme": map[string]any{
				"fixed_price": map[string]any{
					"value":         req.Amount.StringFixed(2),
					"currency_code": req.Currency,
				},
			},
		}},
		"payment_preferences": map[string]any{
			"auto_bill_outstanding":     true,
			"payment_failure_threshold": 3,
		},
	}
	var plan map[string]any
	if err := g.doJSON(ctx, http.MethodPost, "/v1/billing/plans", body, &plan); err != nil {
		return PlanResult{Result: g.failure("create_plan", err)}
	}
	id, _ := plan["id"].(string)
	return PlanResult{Result: succeeded(plan), GatewayPlanID: id}
}

// UpdatePlan patches the plan name and toggles activation. Pricing stays as is.
func (g *PayPalGateway) UpdatePlan(ctx context.Context, gatewayPlanID string, req UpdatePlanRequest) Result {
	if strings.TrimSpace(gatewayPlanID) == "" {
		return validationFailure(errors.New("plan_id is required"))
	}
	if err := ValidateStruct(req); err != nil {
		return validationFailure(err)
	}

	path := "/v1/billing/plans/" + url.PathEscape(gatewayPlanID)
	if req.Name != nil {
		patch := []map[string]any{{"op": "replace", "path": "/name", "value": *req.Name}}
		if err := g.doJSON(ctx, http.MethodPatch, path, patch, nil); err != nil {
			return g.failure("update_plan", err)
		}
	}
	if req.Active != nil {
		action := "/deactivate"
		if *req.Active {
			action = "/activate"
		}
		if err := g.doJSON(ctx, http.MethodPost, path+action, nil, nil); err != nil {
			return g.failure("update_plan", err)
		}
	}
	return succeeded(map[string]any{"id": gatewayPlanID})
}

func (g *PayPalGateway) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) SubscriptionResult {
	if err := ValidateStruct(req); err != nil {
		return SubscriptionResult{Result: validationFailure(err)}
	}

	body := map[string]any{
		"plan_id":   req.PriceID,
		"custom_id": req.CustomerID,
		"application_context": map[string]any{
			"return_url": g.AppURL + "/payment/success",
			"cancel_url": g.AppURL + "/payment/cancel",
		},
	}
	var sub paypalSubscription
	if err := g.doJSON(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &sub); err != nil {
		return SubscriptionResult{Result: g.failure("create_subscription", err)}
	}

	res := SubscriptionResult{
		Result:                succeeded(toRaw(sub)),
		GatewaySubscriptionID: sub.ID,
		Status:                PayPalStatus(sub.Status),
		CurrentPeriodStart:    sub.StartTime,
	}
	if res.CurrentPeriodStart == nil {
		now := g.now().UTC()
		res.CurrentPeriodStart = &now
	}
	if sub.BillingInfo != nil {
		res.CurrentPeriodEnd = sub.BillingInfo.NextBillingTime
	}
	for _, l := range sub.Links {
		if l.Rel == "approve" && res.Raw != nil {
			res.Raw["approve_url"] = l.Href
		}
	}
	return res
}

func (g *PayPalGateway) UpdateSubscription(ctx context.Context, gatewaySubscriptionID string, req UpdateSubscriptionRequest) SubscriptionResult {
	if strings.TrimSpace(gatewaySubscriptionID) == "" {
		return SubscriptionResult{Result: validationFailure(errors.New("subscription_id is required"))}
	}
	path := "/v1/billing/subscriptions/" + url.PathEscape(gatewaySubscriptionID)

	if req.Cancel {
		if err := g.doJSON(ctx, http.MethodPost, path+"/cancel", map[string]any{"reason": "Canceled by customer"}, nil); err != nil {
			return SubscriptionResult{Result: g.failure("cancel_subscription", err)}
		}
		return SubscriptionResult{
			Result:                succeeded(map[string]any{"id": gatewaySubscriptionID}),
			GatewaySubscriptionID: gatewaySubscriptionID,
			Status:                models.SubscriptionStatusCanceled,
		}
	}
	if strings.TrimSpace(req.PriceID) == "" {
		return SubscriptionResult{Result: validationFailure(errors.New("nothing to update"))}
	}

	var revised map[string]any
	if err := g.doJSON(ctx, http.MethodPost, path+"/revise", map[string]any{"plan_id": req.PriceID}, &revised); err != nil {
		return SubscriptionResult{Result: g.failure("update_subscription", err)}
	}
	return SubscriptionResult{
		Result:                succeeded(revised),
		GatewaySubscriptionID: gatewaySubscriptionID,
		Status:                models.SubscriptionStatusActive,
	}
}

// CreatePaymentLink creates a checkout order; the approve link is the URL
// the payer visits.
func (g *PayPalGateway) CreatePaymentLink(ctx context.Context, req CreatePaymentLinkRequest) PaymentLinkResult {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return PaymentLinkResult{Result: validationFailure(err)}
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"description": req.Description,
			"amount": map[string]any{
				"currency_code": req.Currency,
				"value":         req.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]any{
			"return_url": g.AppURL + "/payment/success",
			"cancel_url": g.AppURL + "/payment/cancel",
		},
	}
	var order struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Links  []paypalLink `json:"links"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return PaymentLinkResult{Result: g.failure("create_payment_link", err)}
	}

	res := PaymentLinkResult{Result: succeeded(toRaw(order)), GatewayLinkID: order.ID}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			res.URL = l.Href
			break
		}
	}
	if res.URL == "" {
		return PaymentLinkResult{Result: g.failure("create_payment_link", errors.New("paypal order has no approve link"))}
	}
	return res
}

type paypalSubscription struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	PlanID      string       `json:"plan_id"`
	StartTime   *time.Time   `json:"start_time,omitempty"`
	Links       []paypalLink `json:"links"`
	BillingInfo *struct {
		NextBillingTime *time.Time `json:"next_billing_time,omitempty"`
	} `json:"billing_info,omitempty"`
}

// PayPalStatus maps PayPal subscription states onto the local vocabulary.
func PayPalStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "APPROVAL_PENDING", "APPROVED", "":
		return models.SubscriptionStatusPending
	case "ACTIVE":
		return models.SubscriptionStatusActive
	case "SUSPENDED":
		return models.SubscriptionStatusPastDue
	case "CANCELLED", "EXPIRED":
		return models.SubscriptionStatusCanceled
	default:
		return strings.ToLower(status)
	}
}

func (g *PayPalGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && g.now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}
	if g.ClientID == "" || g.ClientSecret == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_SECRET are not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.ClientID, g.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out paypalTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("paypal token response has no access_token")
	}
	g.accessToken = out.AccessToken
	// renew a minute early
	g.tokenExpiry = g.now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return g.accessToken, nil
}

func (g *PayPalGateway) doJSON(ctx context.Context, method, path string, in, out any) error {
	token, err := g.token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("PayPal-Request-Id", uuid.NewString())

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &paypalAPIError{Status: resp.StatusCode, Body: body}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

type paypalAPIError struct {
	Status int
	Body   []byte
}

func (e *paypalAPIError) Error() string {
	return fmt.Sprintf("paypal request failed: status=%d body=%s", e.Status, string(e.Body))
}

// Message returns PayPal's own description of the failure when it sent one.
func (e *paypalAPIError) Message() string {
	var pe paypalError
	if err := json.Unmarshal(e.Body, &pe); err != nil || pe.Message == "" {
		return ""
	}
	if len(pe.Details) > 0 && pe.Details[0].Description != "" {
		return pe.Message + ": " + pe.Details[0].Description
	}
	return pe.Message
}

func (g *PayPalGateway) failure(op string, err error) Result {
	msg := ""
	var apiErr *paypalAPIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message()
	}
	return remoteFailure(models.GatewayPayPal, op, err, msg)
}
