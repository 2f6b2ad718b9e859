package sealed

import "fmt"

// Reason classifies why an inbound payload was rejected.
type Reason int

const (
	Malformed Reason = iota + 1
	AuthFailure
	SchemaInvalid
)

func (r Reason) String() string {
	switch r {
	case Malformed:
		return "malformed"
	case AuthFailure:
		return "auth_failure"
	case SchemaInvalid:
		return "schema_invalid"
	}
	return "unknown"
}

// DecodeError is returned for every client-caused decoding failure.
// Compare with the sentinels below using errors.Is.
type DecodeError struct {
	Reason Reason
	Err    error
}

var (
	ErrMalformed     = &DecodeError{Reason: Malformed}
	ErrAuthFailure   = &DecodeError{Reason: AuthFailure}
	ErrSchemaInvalid = &DecodeError{Reason: SchemaInvalid}
)

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sealed: %s: %v", e.Reason, e.Err)
	}
	return "sealed: " + e.Reason.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches any DecodeError with the same reason.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Reason == e.Reason
}

func decodeErr(r Reason, err error) error { return &DecodeError{Reason: r, Err: err} }
