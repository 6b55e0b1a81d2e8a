package router

import (
	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the webhook endpoints and the JSON API. The API
// requires one of apiKeys when any are given.
func InstallRouter(app *fiber.App, payments *controllers.PaymentController, webhooks *controllers.WebhookController, apiKeys []string) {
	setup(app, NewHttpRouter(webhooks), NewApiRouter(payments, apiKeys))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
