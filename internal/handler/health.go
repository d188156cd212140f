package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is a liveness endpoint for load balancers.  It returns a plain
// text "ok" with 200 and does not touch any dependency; dependency health
// is reported by the admin status endpoint.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
