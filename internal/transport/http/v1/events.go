package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// IngestEvent stores one caller event and runs the derivation pipeline.
// POST /events
func (h *Handler) IngestEvent(c echo.Context) error {
	var ev domain.Event
	if err := c.Bind(&ev); err != nil {
		return badRequest(c, "invalid request body")
	}

	stored, err := h.service.Ingest(c.Request().Context(), &ev)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, stored)
}

// ListEvents returns one page of history, newest first.
// GET /events?source_app=&session_id=&event_type=&since=&limit=&offset=
func (h *Handler) ListEvents(c echo.Context) error {
	since, err := queryTime(c, "since")
	if err != nil {
		return badRequest(c, "invalid since timestamp")
	}

	page, err := h.service.History(c.Request().Context(), domain.EventFilter{
		SourceApp: c.QueryParam("source_app"),
		SessionID: c.QueryParam("session_id"),
		EventType: c.QueryParam("event_type"),
		Since:     since,
		Limit:     queryInt(c, "limit", 100),
		Offset:    queryInt(c, "offset", 0),
	})
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// RecentEvents returns the latest events, oldest first.
// GET /events/recent?limit=
func (h *Handler) RecentEvents(c echo.Context) error {
	events, err := h.service.Recent(c.Request().Context(), queryInt(c, "limit", 100))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

// FilterOptions lists the values the history filters accept.
// GET /events/filter-options
func (h *Handler) FilterOptions(c echo.Context) error {
	opts, err := h.service.FilterOptions(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, opts)
}

// CategoryEvents returns events of one category (the part of event_type
// before the first dot).
// GET /events/category/:category?limit=
func (h *Handler) CategoryEvents(c echo.Context) error {
	events, err := h.service.Category(c.Request().Context(), c.Param("category"), queryInt(c, "limit", 100))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}
