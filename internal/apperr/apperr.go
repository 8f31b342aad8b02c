// Package apperr defines the error taxonomy shared by every client component.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Unknown is the zero Kind.
	Unknown Kind = iota

	// NotAuthenticated means no token is present locally.
	NotAuthenticated

	// InvalidCredentials means the server rejected a sign-in with 401.
	InvalidCredentials

	// SessionExpired means an authenticated call was answered with 401 or 403.
	SessionExpired

	// ValidationError means input was rejected before any network call.
	ValidationError

	// RequestFailed means a non-2xx response, usually with a server-supplied reason.
	RequestFailed

	// NetworkUnavailable means no response was received.
	NetworkUnavailable

	// MalformedResponse means a 2xx response whose body could not be used.
	MalformedResponse

	// InvalidServerResponse means a sign-in response lacked a usable identity.
	InvalidServerResponse

	// LoginFailed means sign-in failed for a reason other than bad credentials.
	LoginFailed

	// RegistrationFailed means account creation or the follow-up sign-in failed.
	RegistrationFailed
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	NotAuthenticated:      "not authenticated",
	InvalidCredentials:    "invalid credentials",
	SessionExpired:        "session expired",
	ValidationError:       "validation error",
	RequestFailed:         "request failed",
	NetworkUnavailable:    "network unavailable",
	MalformedResponse:     "malformed response",
	InvalidServerResponse: "invalid server response",
	LoginFailed:           "login failed",
	RegistrationFailed:    "registration failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the tagged failure returned by the gateway and the managers.
type Error struct {
	Kind Kind

	// Status is the HTTP status code, 0 when no response was involved.
	Status int

	// Detail is the human-readable reason, server-supplied when available.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
// A target with Status set also has to match the status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Status == 0 || t.Status == e.Status
}

// Message returns the text shown to a person, without the kind prefix when a detail exists.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Sentinels for errors.Is.
var (
	ErrNotAuthenticated      = &Error{Kind: NotAuthenticated}
	ErrInvalidCredentials    = &Error{Kind: InvalidCredentials}
	ErrSessionExpired        = &Error{Kind: SessionExpired}
	ErrValidation            = &Error{Kind: ValidationError}
	ErrRequestFailed         = &Error{Kind: RequestFailed}
	ErrNetworkUnavailable    = &Error{Kind: NetworkUnavailable}
	ErrMalformedResponse     = &Error{Kind: MalformedResponse}
	ErrInvalidServerResponse = &Error{Kind: InvalidServerResponse}
	ErrLoginFailed           = &Error{Kind: LoginFailed}
	ErrRegistrationFailed    = &Error{Kind: RegistrationFailed}
)

// New returns an *Error with a detail message.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf returns an *Error with a formatted detail message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of kind wrapping err.
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the Kind of err, or Unknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// MessageOf returns a human-readable description for any error.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}
