package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the error type surfaced by primary gateway/channel operations.
// Code classifies the failure for the caller; Cause keeps the underlying
// error reachable through errors.Is/As.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Network(message string, cause error) error {
	return Wrap(CodeNetwork, message, cause)
}

func Decode(message string, cause error) error {
	return Wrap(CodeProtocolDecode, message, cause)
}

func Unauthenticated(message string) error {
	return New(CodeUnauthenticated, message)
}

func InvalidReference(message string) error {
	return New(CodeInvalidReference, message)
}

// CodeOf extracts the classification of err, walking the wrap chain.
// Errors that never pass through this package report CodeUnknown.
func CodeOf(err error) Code {
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Code
	}
	return CodeUnknown
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
