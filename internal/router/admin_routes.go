package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/loader-licensing/internal/handler"
	"github.com/iliyamo/loader-licensing/internal/middleware"
	"github.com/iliyamo/loader-licensing/internal/utils"
)

// Admin bundles the admin handlers and the secrets guarding them.
type Admin struct {
	Auth     *handler.AuthHandler
	Users    *handler.UserHandler
	Products *handler.ProductHandler
	Loader   *handler.LoaderHandler

	APIToken  string
	JWTSecret string
	Cache     *middleware.AdminCache
}

// RegisterAdmin registers /v1/admin. The token exchange is guarded by the
// static API token; every other route needs an ADMIN bearer token and goes
// through the response cache.
func RegisterAdmin(e *echo.Echo, a Admin) {
	e.POST("/v1/admin/auth/token", a.Auth.Token, middleware.RequireAPIToken(a.APIToken))

	g := e.Group("/v1/admin",
		middleware.JWTAuth(a.JWTSecret),
		middleware.RequireRole(utils.RoleAdmin),
		a.Cache.Middleware(),
	)

	u := g.Group("/users")
	u.POST("", a.Users.Create)
	u.GET("", a.Users.List)
	u.GET("/:id", a.Users.Get)
	u.PATCH("/rename", a.Users.Rename)
	u.PATCH("/active", a.Users.SetActive)
	u.PATCH("/reset-password", a.Users.ResetPassword)
	u.POST("/grant-access", a.Users.GrantAccess)
	u.POST("/revoke-access", a.Users.RevokeAccess)
	u.POST("/reset-hwid", a.Users.ResetHWID)
	u.POST("/confirm-hwid", a.Users.ConfirmHWID)
	u.DELETE("/:id", a.Users.Remove)

	p := g.Group("/products")
	p.POST("", a.Products.Create)
	p.GET("", a.Products.List)
	p.GET("/:id", a.Products.Get)
	p.PATCH("/rename", a.Products.Rename)
	p.PATCH("/status", a.Products.SetStatus)
	p.PATCH("/process", a.Products.SetProcess)
	p.POST("/upload", a.Products.Upload)
	p.DELETE("/:id", a.Products.Remove)

	l := g.Group("/loader")
	l.GET("", a.Loader.Get)
	l.PATCH("/active", a.Loader.SetActive)
	l.PATCH("/keys", a.Loader.RotateKeys)
	l.PUT("/upload", a.Loader.Upload)
}
