package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/loader-licensing/internal/activation"
)

// ClientService is implemented by *activation.Service.
type ClientService interface {
	HandleLogin(ctx context.Context, data string) (string, error)
	HandleStream(ctx context.Context, data string) (string, error)
	Bootstrap(ctx context.Context, accessKey string) (*activation.Download, error)
}

// ClientHandler serves the sealed client endpoints and the installer
// download.
type ClientHandler struct {
	Svc     ClientService
	Timeout time.Duration
}

func NewClientHandler(svc ClientService) *ClientHandler {
	return &ClientHandler{Svc: svc, Timeout: 30 * time.Second}
}

// ----- DTOs -----

type sealedReq struct {
	Data string `json:"data" validate:"required"`
}
type sealedResp struct {
	Payload string `json:"payload"`
}
type downloadReq struct {
	Key string `json:"key" validate:"required,len=32"`
}

// Login handles POST /v1/client/login.
func (h *ClientHandler) Login(c echo.Context) error {
	return h.sealed(c, h.Svc.HandleLogin)
}

// StreamProduct handles POST /v1/client/stream-product.
func (h *ClientHandler) StreamProduct(c echo.Context) error {
	return h.sealed(c, h.Svc.HandleStream)
}

func (h *ClientHandler) sealed(c echo.Context, run func(context.Context, string) (string, error)) error {
	var req sealedReq
	if err := bind(c, &req); err != nil {
		return activation.ErrMalformedPayload
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	payload, err := run(ctx, req.Data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sealedResp{Payload: payload})
}

// Download handles POST /v1/download. The archive is returned base64
// encoded inside the JSON body.
func (h *ClientHandler) Download(c echo.Context) error {
	var req downloadReq
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	d, err := h.Svc.Bootstrap(ctx, req.Key)
	if err != nil {
		if errors.Is(err, activation.ErrNoEntitlements) {
			return apiError(http.StatusForbidden, "no_entitlements", "You do not have access to any products")
		}
		return err
	}
	return c.JSON(http.StatusOK, d)
}
