package middleware

import "github.com/labstack/echo/v4"

// subject returns the authenticated admin subject, or "anon" on routes
// without a token.
func subject(c echo.Context) string {
	if s, ok := c.Get(CtxSubject).(string); ok && s != "" {
		return s
	}
	return "anon"
}
