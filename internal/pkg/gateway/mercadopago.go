package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
)

// mercadoPagoAPI is the slice of the Mercado Pago SDK the gateway relies on,
// expressed in local types so the SDK stays behind one adapter.
type mercadoPagoAPI interface {
	CreateCustomer(ctx context.Context, in mpCustomerInput) (string, map[string]any, error)
	UpdateCustomer(ctx context.Context, id string, in mpCustomerInput) (map[string]any, error)
	CustomerEmail(ctx context.Context, id string) (string, error)
	CreateCard(ctx context.Context, customerID, token string) (mpCard, map[string]any, error)
	CreatePlan(ctx context.Context, in mpPlanInput) (string, map[string]any, error)
	UpdatePlanReason(ctx context.Context, id, reason string) (map[string]any, error)
	CreateSubscription(ctx context.Context, in mpSubscriptionInput) (mpSubscription, map[string]any, error)
	UpdateSubscriptionStatus(ctx context.Context, id, status string) (mpSubscription, map[string]any, error)
	CreatePreference(ctx context.Context, in mpPreferenceInput) (mpPreference, map[string]any, error)
}

type mpCustomerInput struct {
	Email     string
	FirstName string
	LastName  string
}

type mpCard struct {
	ID       string
	Brand    string
	LastFour string
	ExpMonth int
	ExpYear  int
}

type mpPlanInput struct {
	Reason        string
	BackURL       string
	Frequency     int
	FrequencyType string
	Amount        float64
	CurrencyID    string
}

type mpSubscriptionInput struct {
	PlanID            string
	PayerEmail        string
	BackURL           string
	ExternalReference string
}

type mpSubscription struct {
	ID              string
	Status          string
	InitPoint       string
	DateCreated     *time.Time
	NextPaymentDate *time.Time
}

type mpPreferenceInput struct {
	Title      string
	UnitPrice  float64
	CurrencyID string
	Success    string
	Failure    string
	Pending    string
	ExpiresAt  *time.Time
	Metadata   map[string]any
}

type mpPreference struct {
	ID        string
	InitPoint string
}

type MercadoPagoConfig struct {
	AccessToken string
	AppURL      string
	Timeout     time.Duration
}

// MercadoPagoGateway maps plans onto preapproval plans, subscriptions onto
// preapprovals and payment links onto checkout preferences.
type MercadoPagoGateway struct {
	api     mercadoPagoAPI
	appURL  string
	timeout time.Duration
}

func NewMercadoPagoGateway(cfg MercadoPagoConfig) (*MercadoPagoGateway, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("missing MERCADOPAGO_ACCESS_TOKEN")
	}
	api, err := newMercadoPagoSDK(cfg.AccessToken)
	if err != nil {
		return nil, err
	}
	return newMercadoPagoGateway(api, cfg.AppURL, cfg.Timeout), nil
}

func newMercadoPagoGateway(api mercadoPagoAPI, appURL string, timeout time.Duration) *MercadoPagoGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MercadoPagoGateway{api: api, appURL: strings.TrimRight(appURL, "/"), timeout: timeout}
}

func (g *MercadoPagoGateway) GatewayName() string { return models.GatewayMercadoPago }

func (g *MercadoPagoGateway) CreateCustomer(ctx context.Context, req CreateCustomerRequest) CustomerResult {
	req = req.Normalize()
	if err := ValidateStruct(req); err != nil {
		return CustomerResult{Result: validationFailure(err)}
	}

	first, last := splitName(req.Name)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	id, raw, err := g.api.CreateCustomer(ctx, mpCustomerInput{Email: req.Email, FirstName: first, LastName: last})
	if err != nil {
		return CustomerResult{Result: g.failure("create_customer", err)}
	}
	return CustomerResult{Result: succeeded(raw), GatewayCustomerID: id}
}

func (g *MercadoPagoGateway) UpdateCustomer(ctx context.Context, gatewayCustomerID string, req UpdateCustomerRequest) Result {
	if strings.TrimSpace(gatewayCustomerID) == "" {
		return validationFailure(errors.New("customer_id is required"))
	}
	if err := ValidateStruct(req); err != nil {
		return validationFailure(err)
	}

	var in mpCustomerInput
	if req.Email != nil {
		in.Email = strings.TrimSpace(*req.Email)
	}
	if req.Name != nil {
		in.FirstName, in.LastName = splitName(*req.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	raw, err := g.api.UpdateCustomer(ctx, gatewayCustomerID, in)
	if err != nil {
		return g.failure("update_customer", err)
	}
	return succeeded(raw)
}

func (g *MercadoPagoGateway) CreateCard(ctx context.Context, gatewayCustomerID string, req CreateCardRequest) CardResult {
	if strings.TrimSpace(gatewayCustomerID) == "" {
		return CardResult{Result: validationFailure(errors.New("customer_id is required"))}
	}
	if err := ValidateStruct(req); err != nil {
		return CardResult{Result: validationFailure(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	card, raw, err := g.api.CreateCard(ctx, gatewayCustomerID, req.Token)
	if err != nil {
		return CardResult{Result: g.failure("create_card", err)}
	}
	return CardResult{
		Result:        succeeded(raw),
		GatewayCardID: card.ID,
		Brand:         card.Brand,
		LastFour:      card.LastFour,
		ExpMonth:      card.ExpMonth,
		ExpYear:       card.ExpYear,
	}
}

func (g *MercadoPagoGateway) CreatePlan(ctx context.Context, req CreatePlanRequest) PlanResult {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return PlanResult{Result: validationFailure(err)}
	}

	frequency, frequencyType := mercadoPagoFrequency(req.Interval, req.IntervalCount)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	id, raw, err := g.api.CreatePlan(ctx, mpPlanInput{
		Reason:        req.Name,
		BackURL:       g.appURL + "/subscriptions",
		Frequency:     frequency,
		FrequencyType: frequencyType,
		Amount:        req.Amount.InexactFloat64(),
		CurrencyID:    req.Currency,
	})
	if err != nil {
		return PlanResult{Result: g.failure("create_plan", err)}
	}
	return PlanResult{Result: succeeded(raw), GatewayPlanID: id}
}

// UpdatePlan pushes the plan reason (its display name). Activation is kept
// locally; preapproval plans have no activation toggle in the SDK.
func (g *MercadoPagoGateway) UpdatePlan(ctx context.Context, gatewayPlanID string, req UpdatePlanRequest) Result {
	if strings.TrimSpace(gatewayPlanID) == "" {
		return validationFailure(errors.New("plan_id is required"))
	}
	if err := ValidateStruct(req); err != nil {
		return validationFailure(err)
	}
	if req.Name == nil {
		return succeeded(map[string]any{"id": gatewayPlanID})
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	raw, err := g.api.UpdatePlanReason(ctx, gatewayPlanID, *req.Name)
	if err != nil {
		return g.failure("update_plan", err)
	}
	return succeeded(raw)
}

func (g *MercadoPagoGateway) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) SubscriptionResult {
	if err := ValidateStruct(req); err != nil {
		return SubscriptionResult{Result: validationFailure(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	email, err := g.api.CustomerEmail(ctx, req.CustomerID)
	if err != nil {
		return SubscriptionResult{Result: g.failure("create_subscription", err)}
	}

	sub, raw, err := g.api.CreateSubscription(ctx, mpSubscriptionInput{
		PlanID:            req.PriceID,
		PayerEmail:        email,
		BackURL:           g.appURL + "/subscriptions",
		ExternalReference: req.Metadata["user_id"],
	})
	if err != nil {
		return SubscriptionResult{Result: g.failure("create_subscription", err)}
	}
	return SubscriptionResult{
		Result:                succeeded(raw),
		GatewaySubscriptionID: sub.ID,
		Status:                MercadoPagoStatus(sub.Status),
		CurrentPeriodStart:    sub.DateCreated,
		CurrentPeriodEnd:      sub.NextPaymentDate,
	}
}

// UpdateSubscription only supports cancellation. Preapprovals cannot move
// to another plan.
func (g *MercadoPagoGateway) UpdateSubscription(ctx context.Context, gatewaySubscriptionID string, req UpdateSubscriptionRequest) SubscriptionResult {
	if strings.TrimSpace(gatewaySubscriptionID) == "" {
		return SubscriptionResult{Result: validationFailure(errors.New("subscription_id is required"))}
	}
	if !req.Cancel {
		return SubscriptionResult{Result: validationFailure(errors.New("mercadopago subscriptions can only be canceled"))}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	sub, raw, err := g.api.UpdateSubscriptionStatus(ctx, gatewaySubscriptionID, "cancelled")
	if err != nil {
		return SubscriptionResult{Result: g.failure("cancel_subscription", err)}
	}
	id := sub.ID
	if id == "" {
		id = gatewaySubscriptionID
	}
	return SubscriptionResult{
		Result:                succeeded(raw),
		GatewaySubscriptionID: id,
		Status:                models.SubscriptionStatusCanceled,
	}
}

func (g *MercadoPagoGateway) CreatePaymentLink(ctx context.Context, req CreatePaymentLinkRequest) PaymentLinkResult {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return PaymentLinkResult{Result: validationFailure(err)}
	}

	metadata := make(map[string]any, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	pref, raw, err := g.api.CreatePreference(ctx, mpPreferenceInput{
		Title:      req.Description,
		UnitPrice:  req.Amount.InexactFloat64(),
		CurrencyID: req.Currency,
		Success:    g.appURL + "/payment/success",
		Failure:    g.appURL + "/payment/cancel",
		Pending:    g.appURL + "/payment/pending",
		ExpiresAt:  req.ExpiresAt,
		Metadata:   metadata,
	})
	if err != nil {
		return PaymentLinkResult{Result: g.failure("create_payment_link", err)}
	}
	return PaymentLinkResult{Result: succeeded(raw), GatewayLinkID: pref.ID, URL: pref.InitPoint}
}

func (g *MercadoPagoGateway) failure(op string, err error) Result {
	msg := ""
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("mercadopago %s timed out after %s", op, g.timeout)
	}
	return remoteFailure(models.GatewayMercadoPago, op, err, msg)
}

// mercadoPagoFrequency converts an interval into auto_recurring terms.
// Mercado Pago only knows days and months.
func mercadoPagoFrequency(interval string, count int) (int, string) {
	if count < 1 {
		count = 1
	}
	switch interval {
	case models.PlanIntervalDay:
		return count, "days"
	case models.PlanIntervalWeek:
		return count * 7, "days"
	case models.PlanIntervalYear:
		return count * 12, "months"
	default:
		return count, "months"
	}
}

// MercadoPagoStatus maps preapproval states onto the local vocabulary.
func MercadoPagoStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "authorized":
		return models.SubscriptionStatusActive
	case "pending", "":
		return models.SubscriptionStatusPending
	case "paused":
		return models.SubscriptionStatusPastDue
	case "cancelled", "canceled":
		return models.SubscriptionStatusCanceled
	default:
		return strings.ToLower(status)
	}
}

func splitName(name string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}
