// Package http provides the HTTP server implementation for the observer.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/observability/internal/hub"
	"github.com/xiaot623/gogo/observability/internal/service"
	v1 "github.com/xiaot623/gogo/observability/internal/transport/http/v1"
	"github.com/xiaot623/gogo/observability/internal/transport/http/ws"
)

// NewServer creates and configures the HTTP server: the ingest and query API
// plus the live stream.
func NewServer(svc *service.Service, h *hub.Hub, opts ws.Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	streamServer := ws.NewServer(h, svc, opts)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	streamServer.RegisterRoutes(e)

	return e
}
