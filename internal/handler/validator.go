package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validator.Validate
}

func NewValidator(v *validator.Validate) *Validator { return &Validator{v: v} }

func (cv *Validator) Validate(i any) error { return cv.v.Struct(i) }

// bind decodes the body into dst and validates it. Both failures are 400.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return errInvalidBody("invalid body")
	}
	if err := c.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errInvalidBody(verrs[0].Field() + " failed " + verrs[0].Tag() + " validation")
		}
		return errInvalidBody("invalid body")
	}
	return nil
}
