package authstate

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned by mutators that require a signed-in user.
var ErrUnauthenticated = errors.New("unauthenticated")

// Well-known error codes. Backends may report any code; these are the ones
// the library itself produces or treats specially.
const (
	CodeRequestFailed = "REQUEST_FAILED"
)

// Error is a failure reported by a backend, carrying the machine-readable
// code used for localization lookups.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  int    `json:"status,omitempty"` // HTTP status, when the backend is HTTP
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	default:
		return "request failed"
	}
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}
