package broker

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Category classifies a broker failure for callers.
type Category string

const (
	CategoryUnauthorized        Category = "Unauthorized"
	CategoryForbidden           Category = "Forbidden"
	CategoryIntegrationNotFound Category = "IntegrationNotFound"
	CategoryInvalidRequest      Category = "InvalidRequest"
	CategoryConflict            Category = "Conflict"
	CategoryVaultWriteFailed    Category = "VaultWriteFailed"
	CategoryInternal            Category = "Internal"
)

// Error is returned by every broker operation. Message is safe to show to the
// caller; Err carries the underlying cause for server logs only.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func newError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Err: cause}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the category onto an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Category {
	case CategoryUnauthorized:
		return http.StatusUnauthorized
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryIntegrationNotFound:
		return http.StatusNotFound
	case CategoryInvalidRequest:
		return http.StatusBadRequest
	case CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(e.StatusCode(), e.Message).AddMetaValue("category", string(e.Category))
}

// CategoryOf returns the category of a broker error, or Internal for anything else.
func CategoryOf(err error) Category {
	var brokerErr *Error
	if errors.As(err, &brokerErr) {
		return brokerErr.Category
	}
	return CategoryInternal
}

// IsCategory reports whether err is a broker error of the given category.
func IsCategory(err error, category Category) bool {
	var brokerErr *Error
	return errors.As(err, &brokerErr) && brokerErr.Category == category
}
