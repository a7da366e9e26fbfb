// Package gin registers the renewal engine's routes on a Gin router.
package gin

import (
	"fmt"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/rhaprace/gorenew/handler"
)

// Config holds Gin adapter configuration.
type Config struct {
	// Service is the engine surface (required).
	Service *handler.Service
}

// Register adds the engine's routes to the router:
//
//	POST /webhooks/gateway
//	POST /accounts/link
//	POST /sweep
func Register(r gongin.IRouter, config Config) error {
	if config.Service == nil {
		return fmt.Errorf("service is required")
	}

	r.POST("/webhooks/gateway", gongin.WrapH(config.Service.Webhook))
	r.POST("/accounts/link", linkHandler(config))
	r.POST("/sweep", sweepHandler(config))
	return nil
}

func linkHandler(config Config) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		var req handler.LinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.ErrorResponse{Error: "invalid request body"})
			return
		}

		resp, err := config.Service.Link(c.Request.Context(), req)
		if err != nil {
			c.JSON(handler.StatusFor(err), handler.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func sweepHandler(config Config) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		summary, err := config.Service.Sweep(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, handler.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
