// Package middleware holds the echo middleware shared by the route groups.
// Failures are returned as *echo.HTTPError so the central error handler
// renders them in the common JSON envelope.
package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxSubject = "subject"
	CtxRole    = "role"
)

// JWTAuth validates an HS256 bearer token and stores its sub and role
// claims in the context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, keyFunc)
			if err != nil || !tok.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			sub, _ := claims.GetSubject()
			c.Set(CtxSubject, sub)
			c.Set(CtxRole, claims["role"])
			return next(c)
		}
	}
}
