package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/repository"
)

// AccountStore is implemented by *repository.AccountRepo.
type AccountStore interface {
	Create(ctx context.Context, a *model.Account) error
	List(ctx context.Context) ([]model.Account, error)
	GetByID(ctx context.Context, id string) (*model.Account, error)
	FindWithProducts(ctx context.Context, id string) (*model.AccountWithProducts, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	Rename(ctx context.Context, id, username string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetPassword(ctx context.Context, id string, hash *string) error
	Grant(ctx context.Context, accountID, productID string) error
	Revoke(ctx context.Context, accountID, productID string) error
	Remove(ctx context.Context, id string) error
}

// HardwareHistory is implemented by *repository.HardwareRepo.
type HardwareHistory interface {
	ListByAccount(ctx context.Context, accountID string) ([]model.Hardware, error)
}

// ProductLookup is implemented by *repository.ProductRepo.
type ProductLookup interface {
	GetByID(ctx context.Context, id string) (*model.Product, error)
}

// HardwareReviewer is implemented by *activation.Service.
type HardwareReviewer interface {
	ReviewHardware(ctx context.Context, accountID string, approved bool) error
	UnbindHardware(ctx context.Context, accountID string) error
}

// UserHandler serves /v1/admin/users.
type UserHandler struct {
	Accounts AccountStore
	Hardware HardwareHistory
	Products ProductLookup
	Review   HardwareReviewer
}

func NewUserHandler(a AccountStore, hw HardwareHistory, p ProductLookup, r HardwareReviewer) *UserHandler {
	return &UserHandler{Accounts: a, Hardware: hw, Products: p, Review: r}
}

// ----- DTOs -----

type createUserReq struct {
	ID       string `json:"id" validate:"omitempty,uuid4"`
	Username string `json:"username" validate:"required,max=64"`
	Active   bool   `json:"active"`
}
type renameUserReq struct {
	ID       string `json:"id" validate:"required,uuid4"`
	Username string `json:"username" validate:"required,max=64"`
}
type userActiveReq struct {
	ID     string `json:"id" validate:"required,uuid4"`
	Active *bool  `json:"active" validate:"required"`
}
type userIDReq struct {
	ID string `json:"id" validate:"required,uuid4"`
}
type accessReq struct {
	ID      string `json:"id" validate:"required,uuid4"`
	Product string `json:"product" validate:"required,uuid4"`
}
type confirmHWIDReq struct {
	ID       string `json:"id" validate:"required,uuid4"`
	Approved *bool  `json:"approved" validate:"required"`
}

type idResp struct {
	ID string `json:"id"`
}

// accountView hides the password hash; only its presence is exposed.
type accountView struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"createdAt"`
	HasPassword      bool      `json:"hasPassword"`
	AccessKey        string    `json:"accessKey"`
	ActiveHardwareID *string   `json:"activeHardwareId"`
}

func viewAccount(a model.Account) accountView {
	return accountView{
		ID:               a.ID,
		Username:         a.Username,
		Active:           a.Active,
		CreatedAt:        a.CreatedAt,
		HasPassword:      a.Password != nil,
		AccessKey:        a.AccessKey,
		ActiveHardwareID: a.ActiveHardwareID,
	}
}

type productView struct {
	model.Product
	Version *model.ProductVersion `json:"version"`
}

func viewProducts(ps []model.EntitledProduct) []productView {
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, productView{Product: p.Product, Version: p.ActiveVersion})
	}
	return out
}

type userDetail struct {
	accountView
	Hardware []model.Hardware `json:"hardware"`
	Products []productView    `json:"products"`
}

func adminCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 10*time.Second)
}

// Create handles POST /v1/admin/users.
func (h *UserHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if req.ID != "" {
		if _, err := h.Accounts.GetByID(ctx, req.ID); err == nil {
			return errUUIDTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
	taken, err := h.Accounts.UsernameTaken(ctx, req.Username)
	if err != nil {
		return err
	}
	if taken {
		return errUsernameTaken
	}

	a := model.Account{ID: req.ID, Username: req.Username, Active: req.Active}
	if err := h.Accounts.Create(ctx, &a); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errUsernameTaken
		}
		return err
	}
	return c.JSON(http.StatusCreated, idResp{ID: a.ID})
}

// List handles GET /v1/admin/users.
func (h *UserHandler) List(c echo.Context) error {
	ctx, cancel := adminCtx(c)
	defer cancel()

	accts, err := h.Accounts.List(ctx)
	if err != nil {
		return err
	}
	out := make([]accountView, 0, len(accts))
	for _, a := range accts {
		out = append(out, viewAccount(a))
	}
	return c.JSON(http.StatusOK, out)
}

// Get handles GET /v1/admin/users/:id with hardware history and grants.
func (h *UserHandler) Get(c echo.Context) error {
	ctx, cancel := adminCtx(c)
	defer cancel()

	a, err := h.Accounts.FindWithProducts(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errAccountNotFound
		}
		return err
	}
	hw, err := h.Hardware.ListByAccount(ctx, a.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userDetail{
		accountView: viewAccount(a.Account),
		Hardware:    hw,
		Products:    viewProducts(a.Products),
	})
}

// Rename handles PATCH /v1/admin/users/rename. A rename that only changes
// letter case skips the availability check.
func (h *UserHandler) Rename(c echo.Context) error {
	var req renameUserReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	a, err := h.Accounts.GetByID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errAccountNotFound
		}
		return err
	}

	caseOnly := strings.EqualFold(a.Username, req.Username) && a.Username != req.Username
	if !caseOnly {
		taken, err := h.Accounts.UsernameTaken(ctx, req.Username)
		if err != nil {
			return err
		}
		if taken {
			return errUsernameTaken
		}
	}
	if err := h.Accounts.Rename(ctx, a.ID, req.Username); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errUsernameTaken
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SetActive handles PATCH /v1/admin/users/active.
func (h *UserHandler) SetActive(c echo.Context) error {
	var req userActiveReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if err := h.Accounts.SetActive(ctx, req.ID, *req.Active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errAccountNotFound
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ResetPassword handles PATCH /v1/admin/users/reset-password. The next
// client login sets a new password.
func (h *UserHandler) ResetPassword(c echo.Context) error {
	var req userIDReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	a, err := h.Accounts.GetByID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errAccountNotFound
		}
		return err
	}
	if a.Password != nil {
		if err := h.Accounts.SetPassword(ctx, a.ID, nil); err != nil {
			return err
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// GrantAccess handles POST /v1/admin/users/grant-access.
func (h *UserHandler) GrantAccess(c echo.Context) error {
	var req accessReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if err := h.requireBoth(ctx, req); err != nil {
		return err
	}
	if err := h.Accounts.Grant(ctx, req.ID, req.Product); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return errAlreadyGranted
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeAccess handles POST /v1/admin/users/revoke-access.
func (h *UserHandler) RevokeAccess(c echo.Context) error {
	var req accessReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if _, err := h.Accounts.GetByID(ctx, req.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errAccountNotFound
		}
		return err
	}
	if err := h.Accounts.Revoke(ctx, req.ID, req.Product); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotGranted
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *UserHandler) requireBoth(ctx context.Context, req accessReq) error {
	if _, err := h.Accounts.GetByID(ctx, req.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errAccountNotFound
		}
		return err
	}
	if _, err := h.Products.GetByID(ctx, req.Product); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errProductNotFound
		}
		return err
	}
	return nil
}

// ResetHWID handles POST /v1/admin/users/reset-hwid.
func (h *UserHandler) ResetHWID(c echo.Context) error {
	var req userIDReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if err := h.Review.UnbindHardware(ctx, req.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ConfirmHWID handles POST /v1/admin/users/confirm-hwid.
func (h *UserHandler) ConfirmHWID(c echo.Context) error {
	var req confirmHWIDReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := adminCtx(c)
	defer cancel()

	if err := h.Review.ReviewHardware(ctx, req.ID, *req.Approved); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Remove handles DELETE /v1/admin/users/:id.
func (h *UserHandler) Remove(c echo.Context) error {
	ctx, cancel := adminCtx(c)
	defer cancel()

	if err := h.Accounts.Remove(ctx, c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errAccountNotFound
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
