package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookDelivery is one inbound notification as received at the boundary.
type WebhookDelivery struct {
	Gateway   string
	Payload   []byte
	Signature string
}

// WebhookOutcome describes what happened to an authenticated delivery.
// ProcessingError is recorded on the event and never sent back to the
// gateway.
type WebhookOutcome struct {
	Event           *models.PaymentWebhookEvent
	Duplicate       bool
	ProcessingError error
}

type webhookEvent struct {
	ID      string
	Type    string
	Payload map[string]any
	// Object is the raw resource the event is about, when the gateway nests one.
	Object json.RawMessage
}

type webhookHandler func(ctx context.Context, ev webhookEvent) error

// WebhookIngestor authenticates, records and reconciles gateway webhooks.
// Every authenticated delivery is stored once per (gateway, event id) before
// any handler runs; repeated ids are acknowledged without reprocessing.
type WebhookIngestor struct {
	repo         Repository
	stripeSecret string
	now          func() time.Time
	handlers     map[string]map[string]webhookHandler
}

func NewWebhookIngestor(repo Repository, stripeSecret string, now func() time.Time) *WebhookIngestor {
	if now == nil {
		now = time.Now
	}
	w := &WebhookIngestor{repo: repo, stripeSecret: stripeSecret, now: now}
	w.handlers = map[string]map[string]webhookHandler{
		models.GatewayStripe: {
			"customer.subscription.created": w.stripeSubscriptionChanged,
			"customer.subscription.updated": w.stripeSubscriptionChanged,
			"customer.subscription.deleted": w.stripeSubscriptionDeleted,
			"invoice.payment_succeeded":     w.stripeInvoice,
			"invoice.payment_failed":        w.stripeInvoice,
		},
		models.GatewayPayPal: {
			"BILLING.SUBSCRIPTION.CREATED":   w.paypalResource,
			"BILLING.SUBSCRIPTION.ACTIVATED": w.paypalResource,
			"BILLING.SUBSCRIPTION.UPDATED":   w.paypalResource,
			"BILLING.SUBSCRIPTION.CANCELLED": w.paypalResource,
			"PAYMENT.SALE.COMPLETED":         w.paypalResource,
			"CHECKOUT.ORDER.APPROVED":        w.paypalResource,
		},
		models.GatewayMercadoPago: {
			"payment":                         w.mercadoPagoResource,
			"subscription_preapproval":        w.mercadoPagoResource,
			"subscription_authorized_payment": w.mercadoPagoResource,
			"preapproval":                     w.mercadoPagoResource,
		},
	}
	return w
}

// Gateways lists the gateway names the ingestor accepts deliveries for.
func (w *WebhookIngestor) Gateways() []string {
	return []string{models.GatewayMercadoPago, models.GatewayPayPal, models.GatewayStripe}
}

// Ingest runs the full webhook protocol for one delivery. A returned error
// is authentication, configuration or storage kind; handler failures are
// reported through the outcome instead.
func (w *WebhookIngestor) Ingest(ctx context.Context, d WebhookDelivery) (*WebhookOutcome, error) {
	const op = "ingest_webhook"
	name := gateway.NormalizeName(d.Gateway)

	ev, err := w.decode(name, d)
	if err != nil {
		return nil, err
	}
	if ev.ID == "" {
		ev.ID = name + "_" + uuid.NewString()
	}
	if ev.Type == "" {
		ev.Type = "unknown"
	}

	record := &models.PaymentWebhookEvent{
		Gateway:   name,
		EventType: ev.Type,
		EventID:   ev.ID,
		Payload:   datatypes.JSONMap(ev.Payload),
	}
	created, stored, err := w.repo.CreateWebhookEventIfNotExists(ctx, record)
	if err != nil {
		slog.Error("failed to persist webhook event", "gateway", name, "event_id", ev.ID, "error", err)
		return nil, &Error{Kind: KindStorage, Op: op, Message: "could not record webhook event", Err: err}
	}
	if !created {
		slog.Info("duplicate webhook event ignored", "gateway", name, "event_id", ev.ID, "event_type", ev.Type)
		return &WebhookOutcome{Event: stored, Duplicate: true}, nil
	}

	out := &WebhookOutcome{Event: stored}
	processingError := ""
	if herr := w.dispatch(ctx, name, ev); herr != nil {
		out.ProcessingError = &Error{Kind: KindReconciliation, Op: ev.Type, Message: herr.Error(), Err: herr}
		processingError = herr.Error()
		slog.Error("webhook processing failed", "gateway", name, "event_id", ev.ID, "event_type", ev.Type, "error", herr)
	}

	if err := w.repo.MarkWebhookProcessed(ctx, stored.ID, processingError); err != nil {
		slog.Error("failed to mark webhook event", "gateway", name, "event_id", ev.ID, "error", err)
	} else {
		stored.Processed = processingError == ""
		stored.ProcessedAt = nil
		if stored.Processed {
			now := w.now().UTC()
			stored.ProcessedAt = &now
		}
		stored.Error = processingError
	}
	return out, nil
}

func (w *WebhookIngestor) decode(name string, d WebhookDelivery) (webhookEvent, error) {
	const op = "ingest_webhook"
	switch name {
	case models.GatewayStripe:
		return w.decodeStripe(d)
	case models.GatewayPayPal, models.GatewayMercadoPago:
		var payload map[string]any
		if err := json.Unmarshal(d.Payload, &payload); err != nil || payload == nil {
			return webhookEvent{}, &Error{Kind: KindAuthentication, Op: op, Message: "malformed webhook payload", Err: err}
		}
		if name == models.GatewayPayPal {
			return webhookEvent{
				ID:      stringField(payload, "id"),
				Type:    stringField(payload, "event_type"),
				Payload: payload,
			}, nil
		}
		typ := stringField(payload, "type")
		if typ == "" {
			typ = stringField(payload, "topic")
		}
		return webhookEvent{ID: stringField(payload, "id"), Type: typ, Payload: payload}, nil
	default:
		return webhookEvent{}, configurationError(op, &gateway.ConfigError{Gateway: name, Err: gateway.ErrGatewayNotRegistered})
	}
}

func (w *WebhookIngestor) decodeStripe(d WebhookDelivery) (webhookEvent, error) {
	const op = "ingest_webhook"
	if strings.TrimSpace(w.stripeSecret) == "" {
		slog.Error("stripe webhook secret is not configured")
	}
	event, err := VerifyStripeWebhookSignature(d.Payload, d.Signature, w.stripeSecret)
	if err != nil {
		slog.Warn("stripe webhook rejected", "error", err)
		if !errors.Is(err, ErrInvalidSignature) {
			err = errors.Join(ErrInvalidSignature, err)
		}
		return webhookEvent{}, &Error{Kind: KindAuthentication, Op: op, Message: ErrInvalidSignature.Error(), Err: err}
	}

	var payload map[string]any
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return webhookEvent{}, &Error{Kind: KindAuthentication, Op: op, Message: "malformed webhook payload", Err: err}
	}
	ev := webhookEvent{ID: event.ID, Type: string(event.Type), Payload: payload}
	if event.Data != nil {
		ev.Object = event.Data.Raw
	}
	return ev, nil
}

// dispatch runs the handler for the event type. Unknown types succeed.
func (w *WebhookIngestor) dispatch(ctx context.Context, name string, ev webhookEvent) (err error) {
	h, ok := w.handlers[name][ev.Type]
	if !ok {
		slog.Info("unhandled webhook event type", "gateway", name, "event_type", ev.Type, "event_id", ev.ID)
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// stringField reads a string or number at key. Mercado Pago sends numeric ids.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func objectField(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}
