package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway/gatewaytest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx    context.Context
	repo   *MemoryRepository
	cache  *cache.MemoryCache
	stripe *gatewaytest.Fake
	paypal *gatewaytest.Fake
	clock  *testClock
	svc    *Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		repo:   NewMemoryRepository(),
		cache:  cache.NewMemoryCache(),
		stripe: gatewaytest.New(models.GatewayStripe),
		paypal: gatewaytest.New(models.GatewayPayPal),
		clock:  &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	registry, err := gateway.NewRegistry(f.stripe, f.paypal)
	require.NoError(t, err)
	f.svc = NewServices(f.repo, registry, f.cache, Options{
		PlanCacheTTL:        time.Hour,
		StripeWebhookSecret: testWebhookSecret,
		Now:                 f.clock.Now,
	})
	return f
}

func (f *fixture) customer(t *testing.T, userID uint, gatewayName string) *models.PaymentCustomer {
	t.Helper()
	c, err := f.svc.Customers.CreateCustomer(f.ctx, User{ID: userID, Email: "user@example.com", Name: "Test User"}, gatewayName, nil)
	require.NoError(t, err)
	return c
}

func (f *fixture) plan(t *testing.T, gatewayName string) *models.PaymentPlan {
	t.Helper()
	p, err := f.svc.Plans.CreatePlan(f.ctx, gatewayName, CreatePlanInput{
		Name:     "Pro",
		Amount:   decimal.RequireFromString("9.99"),
		Currency: "usd",
		Interval: models.PlanIntervalMonth,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) subscription(t *testing.T) *models.PaymentSubscription {
	t.Helper()
	c := f.customer(t, 1, models.GatewayStripe)
	p := f.plan(t, models.GatewayStripe)
	sub, err := f.svc.Subscriptions.CreateSubscription(f.ctx, c.ID, p.ID, nil)
	require.NoError(t, err)
	return sub
}
