package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

// SubscriptionService binds customers to plans on the same gateway.
type SubscriptionService struct {
	repo     Repository
	gateways GatewayResolver
	now      func() time.Time
}

func NewSubscriptionService(repo Repository, gateways GatewayResolver, now func() time.Time) *SubscriptionService {
	if now == nil {
		now = time.Now
	}
	return &SubscriptionService{repo: repo, gateways: gateways, now: now}
}

// CreateSubscription subscribes the customer to the plan. Customer and plan
// must share a gateway; a mismatch is rejected before any remote call.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, customerID, planID uint, metadata map[string]string) (*models.PaymentSubscription, error) {
	const op = "create_subscription"
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, storageError(op, "customer", err)
	}
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, storageError(op, "plan", err)
	}
	if customer.Gateway != plan.Gateway {
		return nil, conflictError(op, ErrGatewayMismatch)
	}
	if !plan.Active {
		return nil, validationError(op, "plan %d is not active", plan.ID)
	}
	client, err := resolve(s.gateways, op, customer.Gateway)
	if err != nil {
		return nil, err
	}

	remoteMeta := withUserID(metadata, customer.UserID)
	remoteMeta["plan_id"] = fmt.Sprint(plan.ID)
	res := client.CreateSubscription(ctx, gateway.CreateSubscriptionRequest{
		CustomerID: customer.GatewayCustomerID,
		PriceID:    plan.GatewayPlanID,
		Metadata:   remoteMeta,
	})
	if !res.Success {
		return nil, resultError(op, customer.Gateway, res.Result)
	}

	status := res.Status
	if status == "" {
		status = models.SubscriptionStatusPending
	}
	sub := &models.PaymentSubscription{
		PaymentCustomerID:     customer.ID,
		PaymentPlanID:         plan.ID,
		Gateway:               customer.Gateway,
		GatewaySubscriptionID: res.GatewaySubscriptionID,
		Status:                status,
		CurrentPeriodStart:    res.CurrentPeriodStart,
		CurrentPeriodEnd:      res.CurrentPeriodEnd,
		Metadata:              toJSONMap(metadata),
	}
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, storageError(op, "subscription", err)
	}

	slog.Info("subscription created", "gateway", sub.Gateway, "subscription_id", sub.ID, "status", sub.Status)
	return sub, nil
}

// UpdateSubscription cancels the subscription or moves it to another plan.
// Canceling an already canceled subscription is a no-op.
func (s *SubscriptionService) UpdateSubscription(ctx context.Context, subscriptionID uint, in UpdateSubscriptionInput) (*models.PaymentSubscription, error) {
	const op = "update_subscription"
	if !in.Cancel && in.NewPlan == nil {
		return nil, &Error{Kind: KindValidation, Op: op, Message: ErrNothingToUpdate.Error(), Err: ErrNothingToUpdate}
	}

	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, storageError(op, "subscription", err)
	}
	if in.Cancel && sub.IsCanceled() {
		return sub, nil
	}
	if !in.Cancel && in.NewPlan.Gateway != sub.Gateway {
		return nil, conflictError(op, ErrGatewayMismatch)
	}
	client, err := resolve(s.gateways, op, sub.Gateway)
	if err != nil {
		return nil, err
	}

	req := gateway.UpdateSubscriptionRequest{Cancel: in.Cancel, Metadata: in.Metadata}
	if !in.Cancel {
		req.PriceID = in.NewPlan.GatewayPlanID
	}
	res := client.UpdateSubscription(ctx, sub.GatewaySubscriptionID, req)
	if !res.Success {
		return nil, resultError(op, sub.Gateway, res.Result)
	}

	if in.Cancel {
		now := s.now().UTC()
		sub.Status = models.SubscriptionStatusCanceled
		sub.CanceledAt = &now
	} else {
		sub.PaymentPlanID = in.NewPlan.ID
		if res.Status != "" {
			sub.Status = res.Status
		}
		if res.CurrentPeriodStart != nil {
			sub.CurrentPeriodStart = res.CurrentPeriodStart
		}
		if res.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = res.CurrentPeriodEnd
		}
	}
	sub.Metadata = mergeMetadata(sub.Metadata, in.Metadata)

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		return nil, storageError(op, "subscription", err)
	}
	return sub, nil
}

func (s *SubscriptionService) CancelSubscription(ctx context.Context, subscriptionID uint) (*models.PaymentSubscription, error) {
	return s.UpdateSubscription(ctx, subscriptionID, UpdateSubscriptionInput{Cancel: true})
}

func (s *SubscriptionService) GetSubscription(ctx context.Context, subscriptionID uint) (*models.PaymentSubscription, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, storageError("get_subscription", "subscription", err)
	}
	return sub, nil
}

// GetActiveSubscriptions returns the customer's subscriptions whose status is
// exactly "active".
func (s *SubscriptionService) GetActiveSubscriptions(ctx context.Context, customerID uint) ([]models.PaymentSubscription, error) {
	subs, err := s.repo.ListSubscriptions(ctx, customerID, models.SubscriptionStatusActive)
	if err != nil {
		return nil, storageError("get_active_subscriptions", "subscriptions", err)
	}
	return subs, nil
}

func (s *SubscriptionService) HasActiveSubscription(ctx context.Context, customerID uint) (bool, error) {
	subs, err := s.GetActiveSubscriptions(ctx, customerID)
	if err != nil {
		return false, err
	}
	return len(subs) > 0, nil
}
