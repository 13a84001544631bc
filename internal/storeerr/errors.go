// Package storeerr defines the error taxonomy shared by every layer of the
// secret store. Each error carries a machine-stable Code so the calling layer
// can render its own, localised message.
//
// Messages and details never contain secret values.
package storeerr

import (
	"errors"
	"fmt"
)

// Code is a machine-stable error identifier.
type Code string

const (
	CodeInvalidArgument          Code = "invalid_argument"
	CodeNotFound                 Code = "not_found"
	CodeVaultError               Code = "vault_error"
	CodeAuthenticationRequired   Code = "authentication_required"
	CodeAuthenticationInProgress Code = "authentication_in_progress"
	CodeAuthenticationCanceled   Code = "authentication_canceled"
	CodeAuthenticationFailed     Code = "authentication_failed"
	CodeBiometryLockout          Code = "biometry_lockout"
	CodeBiometryNotAvailable     Code = "biometry_not_available"
	CodeBiometryNotEnrolled      Code = "biometry_not_enrolled"
	CodeUnknownMethod            Code = "unknown_method"
	CodeRequestCanceled          Code = "request_canceled"
)

var defaultMessages = map[Code]string{
	CodeInvalidArgument:          "The request arguments were invalid.",
	CodeNotFound:                 "No secret is stored under that key.",
	CodeVaultError:               "The secure storage backend reported an error.",
	CodeAuthenticationRequired:   "Authentication is required for this operation.",
	CodeAuthenticationInProgress: "Another authentication is already in progress.",
	CodeAuthenticationCanceled:   "Authentication was canceled.",
	CodeAuthenticationFailed:     "Your identity could not be verified.",
	CodeBiometryLockout:          "Too many failed attempts. Authentication is temporarily locked.",
	CodeBiometryNotAvailable:     "This device cannot perform the requested authentication.",
	CodeBiometryNotEnrolled:      "No biometrics are enrolled on this device.",
	CodeUnknownMethod:            "The requested method is not supported.",
	CodeRequestCanceled:          "The request was canceled before it was processed.",
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	InvalidArgument          = &Error{Code: CodeInvalidArgument}
	NotFound                 = &Error{Code: CodeNotFound}
	VaultError               = &Error{Code: CodeVaultError}
	AuthenticationRequired   = &Error{Code: CodeAuthenticationRequired}
	AuthenticationInProgress = &Error{Code: CodeAuthenticationInProgress}
	AuthenticationCanceled   = &Error{Code: CodeAuthenticationCanceled}
	AuthenticationFailed     = &Error{Code: CodeAuthenticationFailed}
	BiometryLockout          = &Error{Code: CodeBiometryLockout}
	BiometryNotAvailable     = &Error{Code: CodeBiometryNotAvailable}
	BiometryNotEnrolled      = &Error{Code: CodeBiometryNotEnrolled}
	UnknownMethod            = &Error{Code: CodeUnknownMethod}
	RequestCanceled          = &Error{Code: CodeRequestCanceled}
)

// Error is a structured store error.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	// Err is the underlying cause. It is kept for logging and errors.Is
	// chains and is never rendered to clients.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = DefaultMessage(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ClientMessage returns the message safe to show to a caller.
func (e *Error) ClientMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return DefaultMessage(e.Code)
}

// DefaultMessage returns the generic message for a code.
func DefaultMessage(code Code) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return string(code)
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given code that wraps cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// WithDetail returns a copy of e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// From converts any error into an *Error. Errors outside the taxonomy are
// reported as vault errors since the vault is the only collaborator that
// produces untyped failures.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeVaultError, "", err)
}

// CodeOf returns the code of err, or an empty code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}
