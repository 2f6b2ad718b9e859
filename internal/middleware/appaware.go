package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Client headers.
const (
	HeaderAppID      = "X-App-Id"
	HeaderAppVersion = "X-App-Version"
)

// ClientGate is implemented by *activation.Service.
type ClientGate interface {
	CheckClient(version string) error
}

// AppAware admits only the deployment's own client: the app id must match
// and the gate must accept the client version. Gate errors are passed on
// unchanged for the error handler to classify.
func AppAware(appID string, gate ClientGate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderAppID)
			if id == "" || subtle.ConstantTimeCompare([]byte(id), []byte(appID)) != 1 {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid or missing application id")
			}
			version := c.Request().Header.Get(HeaderAppVersion)
			if version == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "Missing application version")
			}
			if err := gate.CheckClient(version); err != nil {
				return err
			}
			return next(c)
		}
	}
}
