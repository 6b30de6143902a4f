package userauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an AuthError independent of its wire code
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION"
	KindMissingInput      ErrorKind = "MISSING_INPUT"
	KindConflict          ErrorKind = "CONFLICT"
	KindInvalidToken      ErrorKind = "INVALID_TOKEN"
	KindInvalidChallenge  ErrorKind = "INVALID_CHALLENGE"
	KindExpired           ErrorKind = "EXPIRED"
	KindIncorrectOTP      ErrorKind = "INCORRECT_OTP"
	KindUnauthorized      ErrorKind = "UNAUTHORIZED"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindOAuthProvider     ErrorKind = "OAUTH_PROVIDER_ERROR"
	KindInvalidOAuthState ErrorKind = "INVALID_OAUTH_STATE"
	KindOAuthExchange     ErrorKind = "OAUTH_EXCHANGE_FAILED"
	KindUpstream          ErrorKind = "UPSTREAM_FAILURE"
)

// Wire codes for the {error, message} response shape
const (
	ErrCodeDuplicateUsername    = "DUPLICATE_USERNAME"
	ErrCodeDuplicateEmail       = "DUPLICATE_EMAIL"
	ErrCodeDuplicatePhoneNumber = "DUPLICATE_PHONE_NUMBER"
	ErrCodeInvalidUsername      = "INVALID_USERNAME"
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodeInvalidPhoneNumber   = "INVALID_PHONE_NUMBER"
	ErrCodeInvalidOAuthProvider = "INVALID_OAUTH_PROVIDER"
	ErrCodeUnknown              = "UNKNOWN_ERROR"
)

// AuthError is the single error type returned by the service layer.
// Field-scoped errors carry either Field or Fields and render as
// {"error": code, "errors": {field: [messages]}}; the rest render as {"error", "message"}.
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Field   string
	Message string
	Fields  map[string][]string
	Cause   error
}

// NewAuthError creates an error of the given kind. field may be empty.
func NewAuthError(kind ErrorKind, message, field string) *AuthError {
	return &AuthError{Kind: kind, Code: string(kind), Message: message, Field: field}
}

// WrapAuthError creates an error of the given kind that wraps cause
func WrapAuthError(kind ErrorKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Code: string(kind), Message: message, Cause: cause}
}

// NewFieldErrors creates a validation error from per-field messages
func NewFieldErrors(kind ErrorKind, fields map[string][]string) *AuthError {
	return &AuthError{Kind: kind, Code: string(kind), Message: "invalid input", Fields: fields}
}

// WithCode overrides the wire code
func (e *AuthError) WithCode(code string) *AuthError {
	e.Code = code
	return e
}

func (e *AuthError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is matches another *AuthError with the same Kind
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// FieldErrors flattens Field/Message and Fields into a single map
func (e *AuthError) FieldErrors() map[string][]string {
	if len(e.Fields) > 0 {
		return e.Fields
	}
	if e.Field != "" {
		return map[string][]string{e.Field: {e.Message}}
	}
	return nil
}

// HTTPStatus maps the error kind to a response status
func (e *AuthError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindMissingInput, KindInvalidToken, KindInvalidChallenge, KindIncorrectOTP:
		return http.StatusBadRequest
	case KindUnauthorized, KindOAuthProvider:
		return http.StatusUnauthorized
	case KindForbidden, KindInvalidOAuthState:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of err, or KindUpstream for errors that are not AuthErrors
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUpstream
}

// IsKind reports whether err is an AuthError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
