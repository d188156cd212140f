package middleware

import "github.com/labstack/echo/v4"

// Subject returns the authenticated caller stored by JWTAuth, or "anon"
// for unauthenticated requests such as supplier webhooks.
func Subject(c echo.Context) string {
	if s, ok := c.Get(ctxSubject).(string); ok && s != "" {
		return s
	}
	return "anon"
}
