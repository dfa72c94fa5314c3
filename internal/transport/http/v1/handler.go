// Package v1 provides the HTTP handlers for the observer API.
package v1

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Ingest and history
	e.POST("/events", h.IngestEvent)
	e.GET("/events", h.ListEvents)
	e.GET("/events/recent", h.RecentEvents)
	e.GET("/events/filter-options", h.FilterOptions)
	e.GET("/events/category/:category", h.CategoryEvents)

	// Correlation
	e.GET("/events/:event_id/trace", h.GetTrace)
	e.GET("/events/context", h.GetContextWindow)
	e.GET("/agents/:agent_id/timeline", h.AgentTimeline)

	// Runs and sessions
	e.POST("/runs/:run_id/summary", h.SummarizeRun)
	e.GET("/runs/:run_id/stats", h.RunStats)
	e.GET("/sessions/active", h.ActiveSessions)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorJSON maps service errors onto status codes.
func errorJSON(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidEvent):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateEvent):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// queryTime reads a timestamp query parameter. Both the stored layout and
// RFC 3339 are accepted.
func queryTime(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	return domain.ParseTime(v)
}
