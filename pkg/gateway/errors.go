package gateway

import (
	"errors"
	"net/http"
)

const (
	ErrorInvalidInput   = "invalid_input"
	ErrorNotConnected   = "not_connected"
	ErrorEngine         = "engine_error"
	ErrorStartupFailure = "startup_failure"
	ErrorInternal       = "internal"
)

const (
	msgRequired       = "contactId and text are required"
	msgInvalidContact = "Invalid contactId"
	msgNotConnected   = "Not connected to SimpleX"
)

// Error is a categorized gateway failure. Message is safe to return to
// callers.
type Error struct {
	Category string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Category
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError creates a categorized gateway error.
func NewError(category string, message string) error {
	return &Error{Category: category, Message: message}
}

// WrapError categorizes err, keeping its text as the message.
func WrapError(category string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Message: err.Error(), Err: err}
}

// CategoryOf returns the stable category for an error when available.
func CategoryOf(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	return ErrorInternal
}

// StatusCode maps an error category onto the HTTP status reported for it.
func StatusCode(err error) int {
	switch CategoryOf(err) {
	case "":
		return http.StatusOK
	case ErrorInvalidInput:
		return http.StatusBadRequest
	case ErrorNotConnected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
