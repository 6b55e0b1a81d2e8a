package router

import (
	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/gofiber/fiber/v2"
)

// HttpRouter serves the unauthenticated endpoints: health and gateway
// webhooks. Webhooks are not rate limited; gateways retry on 429.
type HttpRouter struct {
	webhooks *controllers.WebhookController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	hooks := app.Group("/webhooks")
	hooks.Post("/stripe", h.webhooks.HandleStripeWebhook)
	hooks.Post("/paypal", h.webhooks.HandlePayPalWebhook)
	hooks.Post("/mercadopago", h.webhooks.HandleMercadoPagoWebhook)
}

func NewHttpRouter(webhooks *controllers.WebhookController) *HttpRouter {
	return &HttpRouter{webhooks: webhooks}
}
