// Package failure classifies the errors surfaced to the user.
package failure

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned before any network call when no session token is present.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired is returned after the backend answered 401 and the session was cleared.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthorized marks a 401 response from the backend.
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind is the category of a user-facing failure
type Kind int

const (
	KindUnknown Kind = iota
	KindNotAuthenticated
	KindSessionExpired
	KindTransport
	KindRemoteRejection
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindSessionExpired:
		return "session_expired"
	case KindTransport:
		return "transport"
	case KindRemoteRejection:
		return "remote_rejection"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// RemoteError is a non-2xx response. Message and Hint are kept exactly as the server sent them.
type RemoteError struct {
	Status  int
	Message string
	Hint    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401 response.
func (e *RemoteError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == 401
}

// TransportError is a network or decoding failure before a structured body was obtained.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError is a local precondition failure; no network call was made.
type ValidationError struct {
	Title   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Title
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Message)
}

// Invalid builds a ValidationError
func Invalid(title, message string) error {
	return &ValidationError{Title: title, Message: message}
}

// KindOf reports the category of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		remote     *RemoteError
		transport  *TransportError
		validation *ValidationError
	)
	switch {
	case errors.Is(err, ErrSessionExpired):
		return KindSessionExpired
	case errors.Is(err, ErrNotAuthenticated):
		return KindNotAuthenticated
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &remote):
		return KindRemoteRejection
	case errors.As(err, &transport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// Explain splits err into the title and hint shown to the user.
// Only remote rejections and validation failures carry a hint.
func Explain(err error, fallback string) (message, hint string) {
	var (
		remote     *RemoteError
		transport  *TransportError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &remote):
		message, hint = remote.Message, remote.Hint
	case errors.As(err, &validation):
		message, hint = validation.Title, validation.Message
	case errors.As(err, &transport):
		message = transport.Error()
	case err != nil:
		message = err.Error()
	}
	if message == "" {
		message = fallback
	}
	return message, hint
}
