package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/loader-licensing/internal/identity"
)

// LoaderAdmin is implemented by *activation.Service.
type LoaderAdmin interface {
	Loader() (*identity.Identity, error)
	SetLoaderActive(ctx context.Context, active bool) (bool, error)
	RotateKeys(ctx context.Context) (string, error)
	UploadLoader(ctx context.Context, version string, bin []byte, active *bool) (*identity.Identity, error)
}

// LoaderHandler serves /v1/admin/loader.
type LoaderHandler struct {
	Svc LoaderAdmin
}

func NewLoaderHandler(svc LoaderAdmin) *LoaderHandler { return &LoaderHandler{Svc: svc} }

// ----- DTOs -----

type loaderView struct {
	ID         string     `json:"id"`
	Active     bool       `json:"active"`
	Version    string     `json:"version"`
	LastUpdate *time.Time `json:"lastUpdate"`
	PublicKey  string     `json:"publicKey"`
}
type loaderActiveReq struct {
	Active *bool `json:"active" validate:"required"`
}
type loaderUploadReq struct {
	Version string `json:"version" validate:"required,max=32"`
	Bin     []byte `json:"bin" validate:"required"`
	Active  *bool  `json:"active"`
}

// Get handles GET /v1/admin/loader. The private key is never exposed.
func (h *LoaderHandler) Get(c echo.Context) error {
	id, err := h.Svc.Loader()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loaderView{
		ID:         id.ID,
		Active:     id.Active,
		Version:    id.Version,
		LastUpdate: id.LastUpdate,
		PublicKey:  id.Keys.PublicBase64(),
	})
}

// SetActive handles PATCH /v1/admin/loader/active.
func (h *LoaderHandler) SetActive(c echo.Context) error {
	var req loaderActiveReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	changed, err := h.Svc.SetLoaderActive(ctx, *req.Active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"changed": changed})
}

// RotateKeys handles PATCH /v1/admin/loader/keys.
func (h *LoaderHandler) RotateKeys(c echo.Context) error {
	ctx, cancel := adminCtx(c)
	defer cancel()

	pub, err := h.Svc.RotateKeys(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"publicKey": pub})
}

// Upload handles PUT /v1/admin/loader/upload.
func (h *LoaderHandler) Upload(c echo.Context) error {
	var req loaderUploadReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if _, err := h.Svc.UploadLoader(ctx, req.Version, req.Bin, req.Active); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
