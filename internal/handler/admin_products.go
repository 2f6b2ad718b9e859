package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/loader-licensing/internal/activation"
	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/repository"
)

// ProductStore is implemented by *repository.ProductRepo.
type ProductStore interface {
	Create(ctx context.Context, p *model.Product) error
	GetByID(ctx context.Context, id string) (*model.Product, error)
	List(ctx context.Context) ([]model.EntitledProduct, error)
	Versions(ctx context.Context, productID string) ([]model.ProductVersion, error)
	NameTaken(ctx context.Context, name string) (bool, error)
	Rename(ctx context.Context, id, name string) error
	SetStatus(ctx context.Context, id string, status model.ProductStatus) error
	SetProcess(ctx context.Context, id, process string) error
}

// ProductAdmin is implemented by *activation.Service.
type ProductAdmin interface {
	UploadProductVersion(ctx context.Context, up activation.UploadVersion) (*model.ProductVersion, error)
	RemoveProduct(ctx context.Context, productID string) error
}

// ProductHandler serves /v1/admin/products.
type ProductHandler struct {
	Products ProductStore
	Admin    ProductAdmin
}

func NewProductHandler(p ProductStore, a ProductAdmin) *ProductHandler {
	return &ProductHandler{Products: p, Admin: a}
}

// ----- DTOs -----

type createProductReq struct {
	ID      string `json:"id" validate:"omitempty,uuid4"`
	Name    string `json:"name" validate:"required,max=64"`
	Status  *int   `json:"status" validate:"omitempty,min=0,max=4"`
	Process string `json:"process" validate:"required,max=64"`
}
type renameProductReq struct {
	ID   string `json:"id" validate:"required,uuid4"`
	Name string `json:"name" validate:"required,max=64"`
}
type productStatusReq struct {
	ID     string `json:"id" validate:"required,uuid4"`
	Status *int   `json:"status" validate:"required,min=0,max=4"`
}
type productProcessReq struct {
	ID      string `json:"id" validate:"required,uuid4"`
	Process string `json:"process" validate:"required,max=64"`
}
type uploadProductReq struct {
	ID      string `json:"id" validate:"required,uuid4"`
	Version string `json:"version" validate:"required,max=32"`
	Bin     []byte `json:"bin" validate:"required"`
	Active  bool   `json:"active"`
}

type productDetail struct {
	model.Product
	Versions []model.ProductVersion `json:"versions"`
}

func (h *ProductHandler) load(ctx context.Context, id string) (*model.Product, error) {
	p, err := h.Products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errProductNotFound
		}
		return nil, err
	}
	return p, nil
}

// Create handles POST /v1/admin/products. Products start Offline unless a
// status is given.
func (h *ProductHandler) Create(c echo.Context) error {
	var req createProductReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if req.ID != "" {
		if _, err := h.Products.GetByID(ctx, req.ID); err == nil {
			return errUUIDTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
	taken, err := h.Products.NameTaken(ctx, req.Name)
	if err != nil {
		return err
	}
	if taken {
		return errProductTaken
	}

	p := model.Product{ID: req.ID, Name: req.Name, Status: model.ProductOffline, Process: req.Process}
	if req.Status != nil {
		p.Status = model.ProductStatus(*req.Status)
	}
	if err := h.Products.Create(ctx, &p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errProductTaken
		}
		return err
	}
	return c.JSON(http.StatusCreated, idResp{ID: p.ID})
}

// List handles GET /v1/admin/products.
func (h *ProductHandler) List(c echo.Context) error {
	ctx, cancel := adminCtx(c)
	defer cancel()

	ps, err := h.Products.List(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewProducts(ps))
}

// Get handles GET /v1/admin/products/:id.
func (h *ProductHandler) Get(c echo.Context) error {
	ctx, cancel := adminCtx(c)
	defer cancel()

	p, err := h.load(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	vs, err := h.Products.Versions(ctx, p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, productDetail{Product: *p, Versions: vs})
}

// Rename handles PATCH /v1/admin/products/rename.
func (h *ProductHandler) Rename(c echo.Context) error {
	var req renameProductReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	p, err := h.load(ctx, req.ID)
	if err != nil {
		return err
	}
	caseOnly := strings.EqualFold(p.Name, req.Name) && p.Name != req.Name
	if !caseOnly {
		taken, err := h.Products.NameTaken(ctx, req.Name)
		if err != nil {
			return err
		}
		if taken {
			return errProductTaken
		}
	}
	if err := h.Products.Rename(ctx, p.ID, req.Name); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errProductTaken
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SetStatus handles PATCH /v1/admin/products/status.
func (h *ProductHandler) SetStatus(c echo.Context) error {
	var req productStatusReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	p, err := h.load(ctx, req.ID)
	if err != nil {
		return err
	}
	if status := model.ProductStatus(*req.Status); status != p.Status {
		if err := h.Products.SetStatus(ctx, p.ID, status); err != nil {
			return err
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// SetProcess handles PATCH /v1/admin/products/process.
func (h *ProductHandler) SetProcess(c echo.Context) error {
	var req productProcessReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	p, err := h.load(ctx, req.ID)
	if err != nil {
		return err
	}
	if req.Process != p.Process {
		if err := h.Products.SetProcess(ctx, p.ID, req.Process); err != nil {
			return err
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// Upload handles POST /v1/admin/products/upload.
func (h *ProductHandler) Upload(c echo.Context) error {
	var req uploadProductReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	_, err := h.Admin.UploadProductVersion(ctx, activation.UploadVersion{
		ProductID: req.ID,
		Version:   req.Version,
		Bin:       req.Bin,
		Activate:  req.Active,
	})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Remove handles DELETE /v1/admin/products/:id.
func (h *ProductHandler) Remove(c echo.Context) error {
	ctx, cancel := adminCtx(c)
	defer cancel()

	if err := h.Admin.RemoveProduct(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
