package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentlink"
	"github.com/stripe/stripe-go/v83/paymentmethod"
	"github.com/stripe/stripe-go/v83/price"
	"github.com/stripe/stripe-go/v83/product"
	"github.com/stripe/stripe-go/v83/subscription"
)

// stripeAPI is the subset of the Stripe SDK the gateway calls.
type stripeAPI interface {
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	UpdateCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
	AttachPaymentMethod(id string, params *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error)
	NewProduct(params *stripe.ProductParams) (*stripe.Product, error)
	UpdateProduct(id string, params *stripe.ProductParams) (*stripe.Product, error)
	NewPrice(params *stripe.PriceParams) (*stripe.Price, error)
	GetPrice(id string) (*stripe.Price, error)
	UpdatePrice(id string, params *stripe.PriceParams) (*stripe.Price, error)
	NewSubscription(params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetSubscription(id string) (*stripe.Subscription, error)
	UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CancelSubscription(id string) (*stripe.Subscription, error)
	NewPaymentLink(params *stripe.PaymentLinkParams) (*stripe.PaymentLink, error)
}

type StripeConfig struct {
	SecretKey string
	Timeout   time.Duration
}

// StripeGateway maps plans onto Stripe's product + price pair. Prices are
// immutable in Stripe, so plan updates only touch the product name, the
// price's active flag and metadata.
type StripeGateway struct {
	api     stripeAPI
	timeout time.Duration
}

// NewStripeGateway configures the process-wide Stripe key and backend.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	stripe.Key = cfg.SecretKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	}))
	return newStripeGateway(sdkStripeAPI{}, timeout)
}

func newStripeGateway(api stripeAPI, timeout time.Duration) *StripeGateway {
	return &StripeGateway{api: api, timeout: timeout}
}

func (g *StripeGateway) GatewayName() string { return models.GatewayStripe }

func (g *StripeGateway) CreateCustomer(ctx context.Context, req CreateCustomerRequest) CustomerResult {
	req = req.Normalize()
	if err := ValidateStruct(req); err != nil {
		return CustomerResult{Result: validationFailure(err)}
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Name),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	cus, err := call(ctx, func() (*stripe.Customer, error) { return g.api.NewCustomer(params) })
	if err != nil {
		return CustomerResult{Result: g.failure("create_customer", err)}
	}
	return CustomerResult{Result: succeeded(toRaw(cus)), GatewayCustomerID: cus.ID}
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, gatewayCustomerID string, req UpdateCustomerRequest) Result {
	if strings.TrimSpace(gatewayCustomerID) == "" {
		return validationFailure(errors.New("customer_id is required"))
	}
	if err := ValidateStruct(req); err != nil {
		return validationFailure(err)
	}

	params := &stripe.CustomerParams{}
	if req.Email != nil {
		params.Email = stripe.String(*req.Email)
	}
	if req.Name != nil {
		params.Name = stripe.String(*req.Name)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	cus, err := call(ctx, func() (*stripe.Customer, error) { return g.api.UpdateCustomer(gatewayCustomerID, params) })
	if err != nil {
		return g.failure("update_customer", err)
	}
	return succeeded(toRaw(cus))
}

// CreateCard attaches a payment method token and makes it the customer's
// default for invoices.
func (g *StripeGateway) CreateCard(ctx context.Context, gatewayCustomerID string, req CreateCardRequest) CardResult {
	if strings.TrimSpace(gatewayCustomerID) == "" {
		return CardResult{Result: validationFailure(errors.New("customer_id is required"))}
	}
	if err := ValidateStruct(req); err != nil {
		return CardResult{Result: validationFailure(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	pm, err := call(ctx, func() (*stripe.PaymentMethod, error) {
		return g.api.AttachPaymentMethod(req.Token, &stripe.PaymentMethodAttachParams{
			Customer: stripe.String(gatewayCustomerID),
		})
	})
	if err != nil {
		return CardResult{Result: g.failure("create_card", err)}
	}

	_, err = call(ctx, func() (*stripe.Customer, error) {
		return g.api.UpdateCustomer(gatewayCustomerID, &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(pm.ID),
			},
		})
	})
	if err != nil {
		return CardResult{Result: g.failure("create_card", err)}
	}

	res := CardResult{Result: succeeded(toRaw(pm)), GatewayCardID: pm.ID}
	if pm.Card != nil {
		res.Brand = string(pm.Card.Brand)
		res.LastFour = pm.Card.Last4
		res.ExpMonth = int(pm.Card.ExpMonth)
		res.ExpYear = int(pm.Card.ExpYear)
	}
	return res
}

// CreatePlan creates a product and a recurring price for it. The price id
// is the gateway plan id.
func (g *StripeGateway) CreatePlan(ctx context.Context, req CreatePlanRequest) PlanResult {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return PlanResult{Result: validationFailure(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	productParams := &stripe.ProductParams{Name: stripe.String(req.Name)}
	for k, v := range req.Metadata {
		productParams.AddMetadata(k, v)
	}
	prod, err := call(ctx, func() (*stripe.Product, error) { return g.api.NewProduct(productParams) })
	if err != nil {
		return PlanResult{Result: g.failure("create_plan", err)}
	}

	priceParams := &stripe.PriceParams{
		Product:    stripe.String(prod.ID),
		UnitAmount: stripe.Int64(minorUnits(req.Amount)),
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(req.Interval),
			IntervalCount: stripe.Int64(int64(req.IntervalCount)),
		},
	}
	pr, err := call(ctx, func() (*stripe.Price, error) { return g.api.NewPrice(priceParams) })
	if err != nil {
		return PlanResult{Result: g.failure("create_plan", err)}
	}
	return PlanResult{Result: succeeded(toRaw(pr)), GatewayPlanID: pr.ID}
}

func (g *StripeGateway) UpdatePlan(ctx context.Context, gatewayPlanID string, req UpdatePlanRequest) Result {
	if strings.TrimSpace(gatewayPlanID) == "" {
		return validationFailure(errors.New("plan_id is required"))
	}
	if err := ValidateStruct(req); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pr, err := call(ctx, func() (*stripe.Price, error) { return g.api.GetPrice(gatewayPlanID) })
	if err != nil {
		return g.failure("update_plan", err)
	}

	if (req.Name != nil || len(req.Metadata) > 0) && pr.Product != nil {
		productParams := &stripe.ProductParams{}
		if req.Name != nil {
			productParams.Name = stripe.String(*req.Name)
		}
		for k, v := range req.Metadata {
			productParams.AddMetadata(k, v)
		}
		if _, err := call(ctx, func() (*stripe.Product, error) { return g.api.UpdateProduct(pr.Product.ID, productParams) }); err != nil {
			return g.failure("update_plan", err)
		}
	}

	if req.Active != nil {
		active := *req.Active
		pr, err = call(ctx, func() (*stripe.Price, error) {
			return g.api.UpdatePrice(gatewayPlanID, &stripe.PriceParams{Active: stripe.Bool(active)})
		})
		if err != nil {
			return g.failure("update_plan", err)
		}
	}
	return succeeded(toRaw(pr))
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) SubscriptionResult {
	if err := ValidateStruct(req); err != nil {
		return SubscriptionResult{Result: validationFailure(err)}
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceID)},
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	sub, err := call(ctx, func() (*stripe.Subscription, error) { return g.api.NewSubscription(params) })
	if err != nil {
		return SubscriptionResult{Result: g.failure("create_subscription", err)}
	}
	return stripeSubscriptionResult(sub)
}

// UpdateSubscription cancels immediately when req.Cancel is set, otherwise it
// swaps the price of the first subscription item.
func (g *StripeGateway) UpdateSubscription(ctx context.Context, gatewaySubscriptionID string, req UpdateSubscriptionRequest) SubscriptionResult {
	if strings.TrimSpace(gatewaySubscriptionID) == "" {
		return SubscriptionResult{Result: validationFailure(errors.New("subscription_id is required"))}
	}
	if !req.Cancel && strings.TrimSpace(req.PriceID) == "" && len(req.Metadata) == 0 {
		return SubscriptionResult{Result: validationFailure(errors.New("nothing to update"))}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if req.Cancel {
		sub, err := call(ctx, func() (*stripe.Subscription, error) { return g.api.CancelSubscription(gatewaySubscriptionID) })
		if err != nil {
			return SubscriptionResult{Result: g.failure("cancel_subscription", err)}
		}
		res := stripeSubscriptionResult(sub)
		res.Status = models.SubscriptionStatusCanceled
		return res
	}

	params := &stripe.SubscriptionParams{}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.PriceID != "" {
		current, err := call(ctx, func() (*stripe.Subscription, error) { return g.api.GetSubscription(gatewaySubscriptionID) })
		if err != nil {
			return SubscriptionResult{Result: g.failure("update_subscription", err)}
		}
		if current.Items == nil || len(current.Items.Data) == 0 {
			return SubscriptionResult{Result: g.failure("update_subscription", errors.New("subscription has no items"))}
		}
		params.Items = []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(current.Items.Data[0].ID), Price: stripe.String(req.PriceID)},
		}
	}

	sub, err := call(ctx, func() (*stripe.Subscription, error) { return g.api.UpdateSubscription(gatewaySubscriptionID, params) })
	if err != nil {
		return SubscriptionResult{Result: g.failure("update_subscription", err)}
	}
	return stripeSubscriptionResult(sub)
}

// CreatePaymentLink creates an inline one-off price and a link selling one
// unit of it.
func (g *StripeGateway) CreatePaymentLink(ctx context.Context, req CreatePaymentLinkRequest) PaymentLinkResult {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return PaymentLinkResult{Result: validationFailure(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pr, err := call(ctx, func() (*stripe.Price, error) {
		return g.api.NewPrice(&stripe.PriceParams{
			UnitAmount:  stripe.Int64(minorUnits(req.Amount)),
			Currency:    stripe.String(strings.ToLower(req.Currency)),
			ProductData: &stripe.PriceProductDataParams{Name: stripe.String(req.Description)},
		})
	})
	if err != nil {
		return PaymentLinkResult{Result: g.failure("create_payment_link", err)}
	}

	params := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{
			{Price: stripe.String(pr.ID), Quantity: stripe.Int64(1)},
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	link, err := call(ctx, func() (*stripe.PaymentLink, error) { return g.api.NewPaymentLink(params) })
	if err != nil {
		return PaymentLinkResult{Result: g.failure("create_payment_link", err)}
	}
	return PaymentLinkResult{Result: succeeded(toRaw(link)), GatewayLinkID: link.ID, URL: link.URL}
}

func (g *StripeGateway) failure(op string, err error) Result {
	msg := ""
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		msg = stripeErr.Msg
	} else if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("stripe %s timed out after %s", op, g.timeout)
	}
	return remoteFailure(models.GatewayStripe, op, err, msg)
}

// Billing periods live on subscription items since the 2025-03-31 API.
func stripeSubscriptionResult(sub *stripe.Subscription) SubscriptionResult {
	res := SubscriptionResult{
		Result:                succeeded(toRaw(sub)),
		GatewaySubscriptionID: sub.ID,
		Status:                string(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		res.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		res.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return res
}

// sdkStripeAPI forwards to the package-level Stripe resource clients.
type sdkStripeAPI struct{}

func (sdkStripeAPI) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.New(params)
}

func (sdkStripeAPI) UpdateCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.Update(id, params)
}

func (sdkStripeAPI) AttachPaymentMethod(id string, params *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error) {
	return paymentmethod.Attach(id, params)
}

func (sdkStripeAPI) NewProduct(params *stripe.ProductParams) (*stripe.Product, error) {
	return product.New(params)
}

func (sdkStripeAPI) UpdateProduct(id string, params *stripe.ProductParams) (*stripe.Product, error) {
	return product.Update(id, params)
}

func (sdkStripeAPI) NewPrice(params *stripe.PriceParams) (*stripe.Price, error) {
	return price.New(params)
}

func (sdkStripeAPI) GetPrice(id string) (*stripe.Price, error) {
	return price.Get(id, nil)
}

func (sdkStripeAPI) UpdatePrice(id string, params *stripe.PriceParams) (*stripe.Price, error) {
	return price.Update(id, params)
}

func (sdkStripeAPI) NewSubscription(params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.New(params)
}

func (sdkStripeAPI) GetSubscription(id string) (*stripe.Subscription, error) {
	return subscription.Get(id, nil)
}

func (sdkStripeAPI) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.Update(id, params)
}

func (sdkStripeAPI) CancelSubscription(id string) (*stripe.Subscription, error) {
	return subscription.Cancel(id, nil)
}

func (sdkStripeAPI) NewPaymentLink(params *stripe.PaymentLinkParams) (*stripe.PaymentLink, error) {
	return paymentlink.New(params)
}
