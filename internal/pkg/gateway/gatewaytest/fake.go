// Package gatewaytest provides a gateway.Client double that records calls.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

// Fake validates requests like a real gateway and returns deterministic
// ids. Set FailWith to make every remote call fail with that message.
type Fake struct {
	Name     string
	FailWith string
	Status   string
	// CancelStatus is reported by canceling updates; real gateways vary.
	CancelStatus string
	Now          func() time.Time
	// CustomerID, when set, replaces the generated customer id.
	CustomerID func(req gateway.CreateCustomerRequest) string

	mu    sync.Mutex
	seq   int
	calls map[string]int
}

func New(name string) *Fake {
	return &Fake{
		Name:         name,
		Status:       models.SubscriptionStatusActive,
		CancelStatus: models.SubscriptionStatusCanceled,
		Now:          time.Now,
		calls:        map[string]int{},
	}
}

func (f *Fake) GatewayName() string { return f.Name }

// Calls reports how many remote calls op reached. Validation failures are
// not counted.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls sums the remote calls over all operations.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *Fake) remote(op, prefix string) (string, *gateway.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	if f.FailWith != "" {
		return "", &gateway.Result{Error: f.FailWith, Failure: gateway.FailureRemote}
	}
	f.seq++
	return fmt.Sprintf("%s_%s_%d", prefix, f.Name, f.seq), nil
}

func (f *Fake) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

func ok(id string) gateway.Result {
	return gateway.Result{Success: true, Raw: map[string]any{"id": id}}
}

func invalid(err error) gateway.Result {
	return gateway.Result{Error: err.Error(), Failure: gateway.FailureValidation}
}

func (f *Fake) CreateCustomer(ctx context.Context, req gateway.CreateCustomerRequest) gateway.CustomerResult {
	if err := gateway.ValidateStruct(req.Normalize()); err != nil {
		return gateway.CustomerResult{Result: invalid(err)}
	}
	id, fail := f.remote("create_customer", "cus")
	if fail != nil {
		return gateway.CustomerResult{Result: *fail}
	}
	if f.CustomerID != nil {
		id = f.CustomerID(req)
	}
	return gateway.CustomerResult{Result: ok(id), GatewayCustomerID: id}
}

func (f *Fake) UpdateCustomer(ctx context.Context, gatewayCustomerID string, req gateway.UpdateCustomerRequest) gateway.Result {
	if err := gateway.ValidateStruct(req); err != nil {
		return invalid(err)
	}
	if _, fail := f.remote("update_customer", "cus"); fail != nil {
		return *fail
	}
	return ok(gatewayCustomerID)
}

func (f *Fake) CreateCard(ctx context.Context, gatewayCustomerID string, req gateway.CreateCardRequest) gateway.CardResult {
	if err := gateway.ValidateStruct(req); err != nil {
		return gateway.CardResult{Result: invalid(err)}
	}
	id, fail := f.remote("create_card", "card")
	if fail != nil {
		return gateway.CardResult{Result: *fail}
	}
	return gateway.CardResult{
		Result:        ok(id),
		GatewayCardID: id,
		Brand:         "visa",
		LastFour:      "4242",
		ExpMonth:      12,
		ExpYear:       f.now().Year() + 3,
	}
}

func (f *Fake) CreatePlan(ctx context.Context, req gateway.CreatePlanRequest) gateway.PlanResult {
	if err := req.Normalize().Validate(); err != nil {
		return gateway.PlanResult{Result: invalid(err)}
	}
	id, fail := f.remote("create_plan", "price")
	if fail != nil {
		return gateway.PlanResult{Result: *fail}
	}
	return gateway.PlanResult{Result: ok(id), GatewayPlanID: id}
}

func (f *Fake) UpdatePlan(ctx context.Context, gatewayPlanID string, req gateway.UpdatePlanRequest) gateway.Result {
	if err := gateway.ValidateStruct(req); err != nil {
		return invalid(err)
	}
	if _, fail := f.remote("update_plan", "price"); fail != nil {
		return *fail
	}
	return ok(gatewayPlanID)
}

func (f *Fake) CreateSubscription(ctx context.Context, req gateway.CreateSubscriptionRequest) gateway.SubscriptionResult {
	if err := gateway.ValidateStruct(req); err != nil {
		return gateway.SubscriptionResult{Result: invalid(err)}
	}
	id, fail := f.remote("create_subscription", "sub")
	if fail != nil {
		return gateway.SubscriptionResult{Result: *fail}
	}
	start := f.now().UTC()
	end := start.AddDate(0, 1, 0)
	return gateway.SubscriptionResult{
		Result:                ok(id),
		GatewaySubscriptionID: id,
		Status:                f.Status,
		CurrentPeriodStart:    &start,
		CurrentPeriodEnd:      &end,
	}
}

func (f *Fake) UpdateSubscription(ctx context.Context, gatewaySubscriptionID string, req gateway.UpdateSubscriptionRequest) gateway.SubscriptionResult {
	if !req.Cancel && req.PriceID == "" {
		return gateway.SubscriptionResult{Result: invalid(errors.New("nothing to update"))}
	}
	op := "update_subscription"
	if req.Cancel {
		op = "cancel_subscription"
	}
	if _, fail := f.remote(op, "sub"); fail != nil {
		return gateway.SubscriptionResult{Result: *fail}
	}
	status := f.Status
	if req.Cancel {
		status = f.CancelStatus
	}
	return gateway.SubscriptionResult{
		Result:                ok(gatewaySubscriptionID),
		GatewaySubscriptionID: gatewaySubscriptionID,
		Status:                status,
	}
}

func (f *Fake) CreatePaymentLink(ctx context.Context, req gateway.CreatePaymentLinkRequest) gateway.PaymentLinkResult {
	if err := req.Normalize().Validate(); err != nil {
		return gateway.PaymentLinkResult{Result: invalid(err)}
	}
	id, fail := f.remote("create_payment_link", "plink")
	if fail != nil {
		return gateway.PaymentLinkResult{Result: *fail}
	}
	return gateway.PaymentLinkResult{
		Result:        ok(id),
		GatewayLinkID: id,
		URL:           "https://pay.example.com/" + id,
	}
}

var _ gateway.Client = (*Fake)(nil)
