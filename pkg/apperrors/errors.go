package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Specific sentinels wrap their kind so errors.Is matches both.
var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrAuthorization    = errors.New("insufficient permissions")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", ErrAuthentication)
	ErrTokenRevoked       = fmt.Errorf("%w: token has been revoked", ErrAuthentication)
	ErrWrongTokenType     = fmt.Errorf("%w: wrong token type", ErrAuthentication)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrAuthentication)
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
)

// Error codes returned to clients alongside the message.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeDatabase       = "DATABASE_ERROR"
	CodeUserNotFound   = "USER_NOT_FOUND"
	CodeNotFound       = "NOT_FOUND"
	CodeAuthentication = "AUTH_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// Error is a classified error carrying a client-facing code and message
// together with diagnostic context that is only ever logged.
type Error struct {
	Code    string
	Message string
	Kind    error
	Context map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString("[" + e.Code + "] ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WithContext sets a diagnostic key on the error and returns it.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Validation reports bad caller input on a single field.
func Validation(message, field string, value interface{}) *Error {
	e := &Error{Code: CodeValidation, Message: message, Kind: ErrValidation}
	if field != "" {
		e.WithContext("field", field)
	}
	if value != nil {
		e.WithContext("value", value)
	}
	return e
}

// Database reports a failed store operation. It is classified as
// ErrStoreUnavailable so callers deny instead of treating it as "no data".
func Database(operation, table string, err error) *Error {
	e := &Error{
		Code:    CodeDatabase,
		Message: "database operation failed",
		Kind:    ErrStoreUnavailable,
		Err:     err,
	}
	if operation != "" {
		e.WithContext("operation", operation)
	}
	if table != "" {
		e.WithContext("table", table)
	}
	return e
}

// UserNotFound reports a missing user.
func UserNotFound(userID int64) *Error {
	return (&Error{
		Code:    CodeUserNotFound,
		Message: "User not found",
		Kind:    ErrUserNotFound,
	}).WithContext("user_id", userID)
}

// NotFound reports a missing entity of the given kind.
func NotFound(entity string, id int64) *Error {
	return (&Error{
		Code:    CodeNotFound,
		Message: entity + " not found",
		Kind:    ErrNotFound,
	}).WithContext(strings.ToLower(entity)+"_id", id)
}

// Authentication reports a failed identity check. kind may be a more
// specific authentication sentinel, or nil for ErrAuthentication.
func Authentication(message string, kind error) *Error {
	if kind == nil {
		kind = ErrAuthentication
	}
	return &Error{Code: CodeAuthentication, Message: message, Kind: kind}
}

// Authorization reports a valid identity lacking the required permissions.
func Authorization(message string, userID int64, missing []string) *Error {
	e := &Error{Code: CodeAuthorization, Message: message, Kind: ErrAuthorization}
	if userID > 0 {
		e.WithContext("user_id", userID)
	}
	if len(missing) > 0 {
		e.WithContext("missing_permissions", missing)
	}
	return e
}

// HTTPStatus maps an error to the status code it is surfaced as.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a client. Anything that
// maps to a 500 collapses to a generic message.
func PublicMessage(err error) (code, message string) {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return CodeInternal, "internal server error"
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Message
	}
	switch {
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication, err.Error()
	case errors.Is(err, ErrAuthorization):
		return CodeAuthorization, err.Error()
	case errors.Is(err, ErrValidation):
		return CodeValidation, err.Error()
	default:
		return CodeNotFound, err.Error()
	}
}
