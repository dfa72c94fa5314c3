package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// GetTrace returns the ancestors and descendant tree of one event.
// GET /events/:event_id/trace
func (h *Handler) GetTrace(c echo.Context) error {
	res, err := h.service.Trace(c.Request().Context(), c.Param("event_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetContextWindow returns the events of a run around a timestamp.
// GET /events/context?run_id=&agent_id=&at=&window_ms=
func (h *Handler) GetContextWindow(c echo.Context) error {
	runID := c.QueryParam("run_id")
	if runID == "" {
		return badRequest(c, "run_id is required")
	}
	at, err := queryTime(c, "at")
	if err != nil {
		return badRequest(c, "invalid at timestamp")
	}
	if at.IsZero() {
		at = time.Now()
	}
	window := time.Duration(queryInt(c, "window_ms", 0)) * time.Millisecond

	events, err := h.service.ContextWindow(c.Request().Context(), runID, c.QueryParam("agent_id"), at, window)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

// AgentTimeline returns one agent's events in chronological order.
// GET /agents/:agent_id/timeline?since=&limit=
func (h *Handler) AgentTimeline(c echo.Context) error {
	since, err := queryTime(c, "since")
	if err != nil {
		return badRequest(c, "invalid since timestamp")
	}

	events, err := h.service.AgentTimeline(c.Request().Context(), c.Param("agent_id"), since, queryInt(c, "limit", 100))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}
