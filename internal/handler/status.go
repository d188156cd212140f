package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cruisesync/internal/diagnostics"
)

// Reporter produces the diagnostics report.
type Reporter interface {
	Report(ctx context.Context, lineID *int64) diagnostics.Report
}

// StatusHandler serves the operator status report.
type StatusHandler struct {
	Reporter Reporter
}

func NewStatusHandler(r Reporter) *StatusHandler {
	if r == nil {
		panic("nil reporter passed to NewStatusHandler")
	}
	return &StatusHandler{Reporter: r}
}

// Status: GET /admin/status[?lineId=].  Always 200; unhealthy dependencies
// are reported in the body.
func (h *StatusHandler) Status(c echo.Context) error {
	var lineID *int64
	if v := c.QueryParam("lineId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lineId"})
		}
		lineID = &id
	}
	return c.JSON(http.StatusOK, h.Reporter.Report(c.Request().Context(), lineID))
}
