package router

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const (
	apiRateLimit       = 120
	apiRateLimitWindow = time.Minute
)

type ApiRouter struct {
	payments *controllers.PaymentController
	apiKeys  []string
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        apiRateLimit,
		Expiration: apiRateLimitWindow,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuth(h.apiKeys))
	v1.Get("/gateways", h.payments.HandleListGateways)

	v1.Post("/customers", h.payments.HandleCreateCustomer)
	v1.Get("/customers/:id", h.payments.HandleGetCustomer)
	v1.Patch("/customers/:id", h.payments.HandleUpdateCustomer)
	v1.Post("/customers/:id/cards", h.payments.HandleCreateCard)
	v1.Get("/customers/:id/cards", h.payments.HandleListCards)

	v1.Post("/cards/:id/default", h.payments.HandleSetDefaultCard)
	v1.Delete("/cards/:id", h.payments.HandleDeleteCard)

	v1.Get("/plans", h.payments.HandleListPlans)
	v1.Post("/plans", h.payments.HandleCreatePlan)
	v1.Patch("/plans/:id", h.payments.HandleUpdatePlan)

	v1.Post("/subscriptions", h.payments.HandleCreateSubscription)
	v1.Patch("/subscriptions/:id", h.payments.HandleUpdateSubscription)
	v1.Post("/subscriptions/:id/cancel", h.payments.HandleCancelSubscription)

	v1.Get("/payment-links", h.payments.HandleListPaymentLinks)
	v1.Post("/payment-links", h.payments.HandleCreatePaymentLink)
}

func NewApiRouter(payments *controllers.PaymentController, apiKeys []string) *ApiRouter {
	return &ApiRouter{payments: payments, apiKeys: apiKeys}
}
