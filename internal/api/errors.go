package api

import (
	"fmt"
	"net/http"
)

// Error is the error member of the response envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Error codes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

var (
	ErrNotFound         = &Error{Code: ErrCodeNotFound, Message: "Resource not found", Status: http.StatusNotFound}
	ErrMethodNotAllowed = &Error{Code: ErrCodeMethodNotAllowed, Message: "Method not allowed", Status: http.StatusMethodNotAllowed}
)

// NewBadRequest creates a bad request error with custom message.
func NewBadRequest(message string) *Error {
	return &Error{Code: ErrCodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

// NewNotFound creates a not found error with custom message.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...), Status: http.StatusNotFound}
}
