package billing

import (
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"gorm.io/gorm"
)

// GatewayResolver maps a gateway name to its client. *gateway.Registry
// implements it.
type GatewayResolver interface {
	Resolve(name string) (gateway.Client, error)
}

type Options struct {
	PlanCacheTTL        time.Duration
	StripeWebhookSecret string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Services bundles every billing service over one repository and registry.
type Services struct {
	Customers     *CustomerService
	Cards         *CardService
	Plans         *PlanService
	Subscriptions *SubscriptionService
	PaymentLinks  *PaymentLinkService
	Webhooks      *WebhookIngestor
}

// NewServices wires the billing services from injected dependencies.
func NewServices(repo Repository, gateways GatewayResolver, c cache.Cache, opts Options) *Services {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Services{
		Customers:     NewCustomerService(repo, gateways),
		Cards:         NewCardService(repo, gateways),
		Plans:         NewPlanService(repo, gateways, c, opts.PlanCacheTTL),
		Subscriptions: NewSubscriptionService(repo, gateways, opts.Now),
		PaymentLinks:  NewPaymentLinkService(repo, gateways, opts.Now),
		Webhooks:      NewWebhookIngestor(repo, opts.StripeWebhookSecret, opts.Now),
	}
}

// NewServicesFromDB creates the billing services from a GORM DB handle.
func NewServicesFromDB(db *gorm.DB, gateways GatewayResolver, c cache.Cache, opts Options) *Services {
	return NewServices(NewRepository(db), gateways, c, opts)
}

func resolve(gateways GatewayResolver, op, name string) (gateway.Client, error) {
	client, err := gateways.Resolve(name)
	if err != nil {
		return nil, configurationError(op, err)
	}
	return client, nil
}
