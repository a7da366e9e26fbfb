// Package echo registers the renewal engine's routes on an Echo router.
package echo

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rhaprace/gorenew/handler"
)

// Config holds Echo adapter configuration.
type Config struct {
	// Service is the engine surface (required).
	Service *handler.Service
}

// Register adds the engine's routes to the Echo instance:
//
//	POST /webhooks/gateway
//	POST /accounts/link
//	POST /sweep
func Register(e *echo.Echo, config Config) error {
	if config.Service == nil {
		return fmt.Errorf("service is required")
	}

	e.POST("/webhooks/gateway", echo.WrapHandler(config.Service.Webhook))
	e.POST("/accounts/link", linkHandler(config))
	e.POST("/sweep", sweepHandler(config))
	return nil
}

func linkHandler(config Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req handler.LinkRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, handler.ErrorResponse{Error: "invalid request body"})
		}

		resp, err := config.Service.Link(c.Request().Context(), req)
		if err != nil {
			return c.JSON(handler.StatusFor(err), handler.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func sweepHandler(config Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		summary, err := config.Service.Sweep(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, handler.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, summary)
	}
}
