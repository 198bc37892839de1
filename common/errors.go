package common

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the upstream has no record for the requested id.
var ErrNotFound = errors.New("not found")

// ErrMalformedResponse marks an upstream body that could not be decoded.
var ErrMalformedResponse = errors.New("malformed upstream response")

// ValidationError reports a request the proxy refuses to forward.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid is shorthand for building a *ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf wraps ErrNotFound with the resource description.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
