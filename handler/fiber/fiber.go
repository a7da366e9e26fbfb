// Package fiber registers the renewal engine's routes on a Fiber app.
package fiber

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/rhaprace/gorenew/handler"
)

// Config holds Fiber adapter configuration.
type Config struct {
	// Service is the engine surface (required).
	Service *handler.Service
}

// Register adds the engine's routes to the app:
//
//	POST /webhooks/gateway
//	POST /accounts/link
//	POST /sweep
//
// The webhook handler is an http.Handler; adaptor bridges it onto fasthttp.
func Register(app *fiber.App, config Config) error {
	if config.Service == nil {
		return fmt.Errorf("service is required")
	}

	app.Post("/webhooks/gateway", adaptor.HTTPHandler(config.Service.Webhook))
	app.Post("/accounts/link", linkHandler(config))
	app.Post("/sweep", sweepHandler(config))
	return nil
}

func linkHandler(config Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req handler.LinkRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(handler.ErrorResponse{Error: "invalid request body"})
		}

		resp, err := config.Service.Link(c.UserContext(), req)
		if err != nil {
			return c.Status(handler.StatusFor(err)).JSON(handler.ErrorResponse{Error: err.Error()})
		}
		return c.Status(http.StatusOK).JSON(resp)
	}
}

func sweepHandler(config Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		summary, err := config.Service.Sweep(c.UserContext())
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(handler.ErrorResponse{Error: err.Error()})
		}
		return c.Status(http.StatusOK).JSON(summary)
	}
}
