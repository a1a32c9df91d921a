package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of canonical error categories. Every error that
// crosses the service boundary carries exactly one Kind; the Responder
// switches on it exhaustively.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindCrypto
	KindInternal
)

// String returns the stable external code for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuthentication:
		return "AUTHENTICATION_ERROR"
	case KindAuthorization:
		return "AUTHORIZATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindCrypto:
		return "CRYPTO_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps the kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the canonical service error. Message is safe for external display;
// Details carries structured field-level information and is only populated for
// validation errors. The wrapped cause, if any, is logged server-side and never
// leaves the process.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Validation returns a 400-class error with optional field details.
func Validation(msg string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

// Authentication returns a 401-class error. The message is intentionally
// generic; the underlying cause is kept for server-side logging only.
func Authentication(cause error) *Error {
	return &Error{Kind: KindAuthentication, Message: "authentication required", cause: cause}
}

// Authorization returns the fixed 403-class error. The message never varies
// with the resource or rule involved, so a denial cannot be used to probe
// whether a resource exists.
func Authorization() *Error {
	return &Error{Kind: KindAuthorization, Message: "access denied"}
}

// NotFound returns a 404-class error naming only the resource type.
func NotFound(resourceType string) *Error {
	return &Error{Kind: KindNotFound, Message: resourceType + " not found"}
}

// Conflict returns a 409-class error.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Crypto returns a 500-class error for encryption failures. The cause is never
// exposed externally.
func Crypto(cause error) *Error {
	return &Error{Kind: KindCrypto, Message: "cryptographic operation failed", cause: cause}
}

// Internal wraps an unexpected error.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", cause: cause}
}

// KindOf extracts the Kind from any error chain. Unrecognized errors are
// classified as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts the canonical *Error from a chain, wrapping unknown errors
// as internal so the Responder always has a well-formed error to emit.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// IsSecurityFailure reports whether the error is an authentication or
// authorization failure, which must always be audited.
func IsSecurityFailure(err error) bool {
	k := KindOf(err)
	return k == KindAuthentication || k == KindAuthorization
}
