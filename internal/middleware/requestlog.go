package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cruisesync/internal/logger"
)

// RequestLogger writes one structured line per request.  It expects echo's
// RequestID middleware earlier in the chain.
func RequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the error response so the status is final
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			kv := []interface{}{
				"method", req.Method,
				"path", req.URL.Path,
				"route", c.Path(),
				"status", res.Status,
				"latency", time.Since(start),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"subject", Subject(c),
			}
			switch {
			case res.Status >= 500:
				log.Error("request", append(kv, "error", err)...)
			case res.Status >= 400:
				log.Warn("request", kv...)
			default:
				log.Info("request", kv...)
			}
			return nil
		}
	}
}
