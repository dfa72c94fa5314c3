package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SummarizeRun returns the run summary of a (run, agent) pair, creating it
// when none is stored yet.
// POST /runs/:run_id/summary?agent_id=
func (h *Handler) SummarizeRun(c echo.Context) error {
	summary, created, err := h.service.SummarizeRun(c.Request().Context(), c.Param("run_id"), c.QueryParam("agent_id"))
	if err != nil {
		return errorJSON(c, err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, summary)
}

// RunStats computes the summary counters without storing anything.
// GET /runs/:run_id/stats?agent_id=
func (h *Handler) RunStats(c echo.Context) error {
	stats, err := h.service.RunSummaryStats(c.Request().Context(), c.Param("run_id"), c.QueryParam("agent_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	if stats.TotalEvents == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, stats)
}

// ActiveSessions lists the sessions the tracker considers live.
// GET /sessions/active
func (h *Handler) ActiveSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": h.service.ActiveSessions(),
	})
}
