package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HeaderAPIToken carries the static admin secret.
const HeaderAPIToken = "X-Api-Token"

// RequireAPIToken accepts only requests presenting the configured admin
// secret.
func RequireAPIToken(token string) echo.MiddlewareFunc {
	want := []byte(token)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := []byte(c.Request().Header.Get(HeaderAPIToken))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized: invalid or missing token")
			}
			return next(c)
		}
	}
}
