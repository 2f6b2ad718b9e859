package activation

import (
	"errors"
	"fmt"

	"github.com/iliyamo/loader-licensing/internal/sealed"
)

// Kind classifies request failures. Every Kind except KindConfiguration is
// caused by the caller and terminal for the request.
type Kind int

const (
	KindDecode Kind = iota + 1
	KindAuthentication
	KindBinding
	KindEntitlement
	KindAvailability
	KindConfiguration
	// KindNotFound covers admin lookups of unknown ids.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindAuthentication:
		return "authentication"
	case KindBinding:
		return "binding"
	case KindEntitlement:
		return "entitlement"
	case KindAvailability:
		return "availability"
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is a classified failure with a stable machine code and a message
// safe to show to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so wrapped copies still match
// the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Code == e.Code
}

func newError(k Kind, code, msg string) *Error { return &Error{Kind: k, Code: code, Message: msg} }

var (
	ErrMalformedPayload = newError(KindDecode, "malformed_payload", "Malformed payload")

	ErrInvalidCredentials = newError(KindAuthentication, "invalid_credentials", "Invalid username or password")
	ErrAccountDisabled    = newError(KindAuthentication, "account_disabled", "Your account is disabled")
	ErrUnknownAccount     = newError(KindAuthentication, "unknown_account", "Invalid username or password")
	ErrInvalidAccessKey   = newError(KindAuthentication, "invalid_access_key", "Invalid access key")

	ErrHardwareMismatch = newError(KindBinding, "hardware_mismatch", "Invalid HWID")
	ErrApprovalPending  = newError(KindBinding, "approval_pending", "Your HWID request is still being processed")
	ErrApprovalRejected = newError(KindBinding, "approval_rejected", "Your HWID request has been rejected")

	ErrNoEntitlements     = newError(KindEntitlement, "no_entitlements", "You do not have access to any products")
	ErrProductNotEntitled = newError(KindEntitlement, "product_not_entitled", "Failed to find the requested product")

	ErrProductOffline      = newError(KindAvailability, "product_offline", "The product is currently unavailable")
	ErrNoActiveVersion     = newError(KindAvailability, "no_active_version", "There is no version available")
	ErrArtifactUnavailable = newError(KindAvailability, "artifact_unavailable", "Failed to fetch the product file")
	ErrLoaderInactive      = newError(KindAvailability, "loader_inactive", "The loader is currently in maintenance mode")
	ErrLoaderUnavailable   = newError(KindAvailability, "loader_unavailable", "You can't download the loader right now")
	ErrOutdatedClient      = newError(KindAvailability, "outdated_client", "Your client is outdated")

	ErrConfiguration = newError(KindConfiguration, "configuration", "The service is not configured")

	ErrAccountNotFound = newError(KindNotFound, "account_not_found", "Failed to find user with given id")
	ErrProductNotFound = newError(KindNotFound, "product_not_found", "Failed to find product with given id")
	ErrNoBoundHardware = newError(KindNotFound, "no_bound_hardware", "This user has no active hardware components")
)

// decodeFailure wraps a codec error as ErrMalformedPayload. The reason is
// kept for logs and is never shown to the client.
func decodeFailure(err error) error {
	e := *ErrMalformedPayload
	e.Err = err
	return &e
}

// configFailure wraps an identity error as ErrConfiguration.
func configFailure(err error) error {
	e := *ErrConfiguration
	e.Err = err
	return &e
}

// AsError extracts the classified error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// DecodeReason reports why a sealed payload was rejected.
func DecodeReason(err error) (sealed.Reason, bool) {
	var de *sealed.DecodeError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return 0, false
}
