// Package router registers the HTTP routes and the middleware of each group.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/loader-licensing/internal/handler"
	"github.com/iliyamo/loader-licensing/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, metrics http.Handler) {
	e.GET("/healthz", handler.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterClient registers the sealed client routes under /v1/client and
// the installer download. Client routes only accept the deployment's own
// client at its current version.
func RegisterClient(e *echo.Echo, h *handler.ClientHandler, appID string, gate middleware.ClientGate, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/client", middleware.AppAware(appID, gate), limit)
	g.POST("/login", h.Login)
	g.POST("/stream-product", h.StreamProduct)

	// the download page is served from another origin
	cors := echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodPost},
	})
	e.POST("/v1/download", h.Download, cors, limit)
	e.OPTIONS("/v1/download", h.Download, cors)
}
