package controllers

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
)

// WebhookController receives gateway notifications. Every authenticated
// delivery is acknowledged with 200 so gateways do not redeliver; failures
// stay on the stored event.
type WebhookController struct {
	ingestor *billing.WebhookIngestor
	timeout  time.Duration
}

func NewWebhookController(ingestor *billing.WebhookIngestor, timeout time.Duration) *WebhookController {
	return &WebhookController{ingestor: ingestor, timeout: timeout}
}

func (w *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	return w.handle(c, models.GatewayStripe, c.Get("Stripe-Signature"))
}

func (w *WebhookController) HandlePayPalWebhook(c *fiber.Ctx) error {
	return w.handle(c, models.GatewayPayPal, "")
}

func (w *WebhookController) HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	return w.handle(c, models.GatewayMercadoPago, c.Get("X-Signature"))
}

func (w *WebhookController) handle(c *fiber.Ctx, gatewayName, signature string) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := requestContext(c, w.timeout)
	defer cancel()

	out, err := w.ingestor.Ingest(ctx, billing.WebhookDelivery{
		Gateway:   gatewayName,
		Payload:   rawBody,
		Signature: strings.TrimSpace(signature),
	})
	if err != nil {
		switch billing.KindOf(err) {
		case billing.KindAuthentication:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_webhook", "message": err.Error()})
		case billing.KindConfiguration:
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_gateway", "message": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
		}
	}

	if out.Duplicate {
		slog.Debug("webhook acknowledged as duplicate", "gateway", gatewayName, "event_id", out.Event.EventID)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "success"})
}
