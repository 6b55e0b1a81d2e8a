package controllers

import (
	"context"
	"log/slog"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
)

const defaultRequestTimeout = 30 * time.Second

// errorStatus maps a billing error kind to the HTTP status returned to API
// callers.
func errorStatus(kind billing.ErrorKind) int {
	switch kind {
	case billing.KindValidation:
		return fiber.StatusUnprocessableEntity
	case billing.KindConflict:
		return fiber.StatusConflict
	case billing.KindRemote:
		return fiber.StatusBadGateway
	case billing.KindConfiguration, billing.KindAuthentication:
		return fiber.StatusBadRequest
	case billing.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	kind := billing.KindOf(err)
	status := errorStatus(kind)
	if status == fiber.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "method", c.Method(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal_server_error", "message": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": string(kind), "message": err.Error()})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

// paramID reads a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(c.UserContext(), timeout)
}
