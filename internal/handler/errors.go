package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/loader-licensing/internal/activation"
)

// APIError is a handler-level failure with a fixed status and code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

func apiError(status int, code, msg string) *APIError {
	return &APIError{Status: status, Code: code, Message: msg}
}

var (
	errInvalidBody     = func(msg string) *APIError { return apiError(http.StatusBadRequest, "invalid_body", msg) }
	errAccountNotFound = apiError(http.StatusNotFound, "account_not_found", "Failed to find user with given id")
	errProductNotFound = apiError(http.StatusNotFound, "product_not_found", "Failed to find product with given id")
	errUUIDTaken       = apiError(http.StatusConflict, "id_taken", "The uuid is already used")
	errUsernameTaken   = apiError(http.StatusConflict, "username_taken", "The username is already used")
	errProductTaken    = apiError(http.StatusConflict, "product_name_taken", "The product name is already used")
	errAlreadyGranted  = apiError(http.StatusConflict, "already_granted", "This user already has access to the requested product")
	errNotGranted      = apiError(http.StatusNotFound, "not_granted", "This user already has no access to the requested product")
)

// statusByCode maps activation error codes to HTTP statuses.
var statusByCode = map[string]int{
	"malformed_payload":    http.StatusBadRequest,
	"invalid_credentials":  http.StatusNotFound,
	"unknown_account":      http.StatusNotFound,
	"invalid_access_key":   http.StatusNotFound,
	"account_disabled":     http.StatusForbidden,
	"hardware_mismatch":    http.StatusForbidden,
	"approval_pending":     http.StatusForbidden,
	"approval_rejected":    http.StatusForbidden,
	"no_entitlements":      http.StatusNotFound,
	"product_not_entitled": http.StatusNotFound,
	"product_offline":      http.StatusServiceUnavailable,
	"no_active_version":    http.StatusServiceUnavailable,
	"artifact_unavailable": http.StatusNotFound,
	"loader_inactive":      http.StatusServiceUnavailable,
	"loader_unavailable":   http.StatusServiceUnavailable,
	"outdated_client":      http.StatusPreconditionFailed,
	"account_not_found":    http.StatusNotFound,
	"product_not_found":    http.StatusNotFound,
	"no_bound_hardware":    http.StatusNotFound,
}

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	StatusCode int    `json:"statusCode"`
}

// classify turns any handler error into status, code and client message.
// Unknown errors are internal and their text is never exposed.
func classify(err error) (int, string, string) {
	var api *APIError
	if errors.As(err, &api) {
		return api.Status, api.Code, api.Message
	}
	if e, ok := activation.AsError(err); ok {
		status, known := statusByCode[e.Code]
		if !known {
			status = http.StatusInternalServerError
		}
		return status, e.Code, e.Message
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, "", msg
	}
	return http.StatusInternalServerError, "internal", "Internal server error"
}

// ErrorHandler renders every error in the common envelope. Internal
// failures are logged with their cause.
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, code, msg := classify(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
		}
		if reason, ok := activation.DecodeReason(err); ok {
			log.Debug("sealed payload rejected", zap.Stringer("reason", reason))
		}

		body := errorBody{Error: http.StatusText(status), Message: msg, Code: code, StatusCode: status}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			log.Warn("write error response", zap.Error(werr))
		}
	}
}
