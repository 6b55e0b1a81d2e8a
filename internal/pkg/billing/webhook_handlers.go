package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/shopspring/decimal"
)

type stripeSubscriptionObject struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// periods prefers the subscription-level bounds and falls back to the first
// item, where newer API versions report them.
func (o stripeSubscriptionObject) periods() (start, end int64) {
	start, end = o.CurrentPeriodStart, o.CurrentPeriodEnd
	if (start == 0 || end == 0) && len(o.Items.Data) > 0 {
		if start == 0 {
			start = o.Items.Data[0].CurrentPeriodStart
		}
		if end == 0 {
			end = o.Items.Data[0].CurrentPeriodEnd
		}
	}
	return start, end
}

func decodeStripeSubscription(raw json.RawMessage) (stripeSubscriptionObject, error) {
	var obj stripeSubscriptionObject
	if len(raw) == 0 {
		return obj, errors.New("event has no data object")
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return obj, fmt.Errorf("decode subscription object: %w", err)
	}
	if obj.ID == "" {
		return obj, errors.New("subscription id missing from event")
	}
	return obj, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// withStripeSubscription loads the local subscription for a Stripe id and
// saves whatever fn changes. Unknown subscriptions are logged and skipped.
func (w *WebhookIngestor) withStripeSubscription(ctx context.Context, ev webhookEvent, gatewaySubID string, fn func(sub *models.PaymentSubscription)) error {
	return w.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := tx.FindSubscriptionByGatewayID(ctx, models.GatewayStripe, gatewaySubID)
		if isNotFound(err) {
			slog.Info("webhook references unknown subscription", "gateway", models.GatewayStripe, "event_type", ev.Type, "gateway_subscription_id", gatewaySubID)
			return nil
		}
		if err != nil {
			return err
		}
		fn(sub)
		return tx.SaveSubscription(ctx, sub)
	})
}

func (w *WebhookIngestor) stripeSubscriptionChanged(ctx context.Context, ev webhookEvent) error {
	obj, err := decodeStripeSubscription(ev.Object)
	if err != nil {
		return err
	}
	start, end := obj.periods()
	return w.withStripeSubscription(ctx, ev, obj.ID, func(sub *models.PaymentSubscription) {
		if obj.Status != "" {
			sub.Status = obj.Status
		}
		if p := unixPtr(start); p != nil {
			sub.CurrentPeriodStart = p
		}
		if p := unixPtr(end); p != nil {
			sub.CurrentPeriodEnd = p
		}
	})
}

func (w *WebhookIngestor) stripeSubscriptionDeleted(ctx context.Context, ev webhookEvent) error {
	obj, err := decodeStripeSubscription(ev.Object)
	if err != nil {
		return err
	}
	return w.withStripeSubscription(ctx, ev, obj.ID, func(sub *models.PaymentSubscription) {
		sub.Status = models.SubscriptionStatusCanceled
		if sub.CanceledAt == nil {
			now := w.now().UTC()
			sub.CanceledAt = &now
		}
	})
}

type stripeInvoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Currency     string `json:"currency"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
}

// stripeInvoice only logs; invoices do not change local state.
func (w *WebhookIngestor) stripeInvoice(ctx context.Context, ev webhookEvent) error {
	var inv stripeInvoiceObject
	if len(ev.Object) > 0 {
		if err := json.Unmarshal(ev.Object, &inv); err != nil {
			return fmt.Errorf("decode invoice object: %w", err)
		}
	}
	level := slog.LevelInfo
	if ev.Type == "invoice.payment_failed" {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "stripe invoice event",
		"event_type", ev.Type,
		"invoice_id", inv.ID,
		"customer", inv.Customer,
		"subscription", inv.Subscription,
		"amount_paid", decimal.New(inv.AmountPaid, -2).StringFixed(2),
		"amount_due", decimal.New(inv.AmountDue, -2).StringFixed(2),
		"currency", inv.Currency,
	)
	return nil
}

func (w *WebhookIngestor) paypalResource(ctx context.Context, ev webhookEvent) error {
	resource := objectField(ev.Payload, "resource")
	slog.InfoContext(ctx, "paypal webhook event",
		"event_type", ev.Type,
		"event_id", ev.ID,
		"resource_id", stringField(resource, "id"),
		"status", stringField(resource, "status"),
	)
	return nil
}

// mercadoPagoSubscriptionTypes carry a preapproval id in data.id.
var mercadoPagoSubscriptionTypes = map[string]bool{
	"subscription_preapproval":        true,
	"subscription_authorized_payment": true,
	"preapproval":                     true,
}

func (w *WebhookIngestor) mercadoPagoResource(ctx context.Context, ev webhookEvent) error {
	resourceID := stringField(objectField(ev.Payload, "data"), "id")
	attrs := []any{
		"event_type", ev.Type,
		"event_id", ev.ID,
		"action", stringField(ev.Payload, "action"),
		"resource_id", resourceID,
	}
	if resourceID != "" && mercadoPagoSubscriptionTypes[ev.Type] {
		sub, err := w.repo.FindSubscriptionByGatewayID(ctx, models.GatewayMercadoPago, resourceID)
		switch {
		case err == nil:
			attrs = append(attrs, "subscription_id", sub.ID, "subscription_status", sub.Status)
		case isNotFound(err):
			attrs = append(attrs, "subscription_id", nil)
		default:
			return fmt.Errorf("look up subscription %s: %w", resourceID, err)
		}
	}
	slog.InfoContext(ctx, "mercadopago webhook event", attrs...)
	return nil
}
