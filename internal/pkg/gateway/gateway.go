package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Client is the capability set every payment gateway exposes. Failures never
// cross this boundary as Go errors: each call returns a result whose embedded
// Result tells validation failures (no remote call made) apart from remote
// failures.
type Client interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) CustomerResult
	UpdateCustomer(ctx context.Context, gatewayCustomerID string, req UpdateCustomerRequest) Result
	CreateCard(ctx context.Context, gatewayCustomerID string, req CreateCardRequest) CardResult
	CreatePlan(ctx context.Context, req CreatePlanRequest) PlanResult
	UpdatePlan(ctx context.Context, gatewayPlanID string, req UpdatePlanRequest) Result
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) SubscriptionResult
	UpdateSubscription(ctx context.Context, gatewaySubscriptionID string, req UpdateSubscriptionRequest) SubscriptionResult
	CreatePaymentLink(ctx context.Context, req CreatePaymentLinkRequest) PaymentLinkResult
	GatewayName() string
}

type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureValidation FailureKind = "validation"
	FailureRemote     FailureKind = "remote"
)

// Result is the normalized outcome shared by every gateway operation.
type Result struct {
	Success bool
	Error   string
	Failure FailureKind
	Raw     map[string]any
}

type CustomerResult struct {
	Result
	GatewayCustomerID string
}

type CardResult struct {
	Result
	GatewayCardID string
	Brand         string
	LastFour      string
	ExpMonth      int
	ExpYear       int
}

type PlanResult struct {
	Result
	GatewayPlanID string
}

type SubscriptionResult struct {
	Result
	GatewaySubscriptionID string
	Status                string
	CurrentPeriodStart    *time.Time
	CurrentPeriodEnd      *time.Time
}

type PaymentLinkResult struct {
	Result
	GatewayLinkID string
	URL           string
}

func succeeded(raw map[string]any) Result {
	return Result{Success: true, Raw: raw}
}

func validationFailure(err error) Result {
	return Result{Error: err.Error(), Failure: FailureValidation}
}

func remoteFailure(gateway, op string, err error, message string) Result {
	slog.Error("gateway call failed", "gateway", gateway, "op", op, "error", err)
	if message == "" {
		message = err.Error()
	}
	return Result{Error: message, Failure: FailureRemote}
}

// toRaw flattens an SDK or API response into a generic document.
func toRaw(v any) map[string]any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// call runs fn and gives up once ctx is done. Used for SDKs that do not take
// a context themselves; their own HTTP timeout ends the abandoned goroutine.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case o := <-done:
		return o.v, o.err
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
