package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/loader-licensing/internal/utils"
)

// AuthHandler exchanges the static admin secret for a short-lived JWT.
type AuthHandler struct {
	Secret string
	TTL    time.Duration
}

func NewAuthHandler(secret string, ttl time.Duration) *AuthHandler {
	return &AuthHandler{Secret: secret, TTL: ttl}
}

// Token handles POST /v1/admin/auth/token. The X-Api-Token check runs in
// middleware before this.
func (h *AuthHandler) Token(c echo.Context) error {
	tok, err := utils.NewAccessToken(h.Secret, "admin", utils.RoleAdmin, h.TTL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tok)
}
