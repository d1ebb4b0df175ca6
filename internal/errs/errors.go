// Package errs provides the unified error type used across edasync.
//
// Every boundary (transport, backend, filestore, controller) wraps its native
// errors into *errs.Error before returning them. The Message of an *Error is
// the text shown to the user in the status region; Error() adds the kind and
// cause for logs.
//
// Usage:
//
//	// At a boundary, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "request timed out", ctxErr)
//
//	// In a caller, check the error kind:
//	if errs.IsValidation(err) {
//	    status.Set(view.LevelError, errs.UserMessage(err))
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing transport-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindValidation               // bad file type/size, bad arguments; never retried
	ErrKindNetwork                  // connectivity failure, no response received
	ErrKindTimeout                  // attempt deadline / abort
	ErrKindServer                   // non-2xx HTTP response
	ErrKindProtocol                 // 2xx response with an unexpected body
	ErrKindBusy                     // another operation is already in flight
	ErrKindRender                   // malformed summary data while rendering
	ErrKindNotFound                 // no summary, no object, no bucket
	ErrKindPermissionDenied         // access denied by the artifact store
	ErrKindStorage                  // artifact store I/O failure
	ErrKindConfig                   // invalid configuration
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindValidation:
		return "validation"
	case ErrKindNetwork:
		return "network"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindServer:
		return "server"
	case ErrKindProtocol:
		return "protocol"
	case ErrKindBusy:
		return "busy"
	case ErrKindRender:
		return "render"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindStorage:
		return "storage"
	case ErrKindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all edasync packages.
type Error struct {
	Kind    ErrKind
	Message string
	Status  int   // HTTP status for ErrKindServer, 0 otherwise
	Cause   error // underlying error, kept for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Server creates an ErrKindServer error carrying the HTTP status code.
func Server(status int, msg string) *Error {
	return &Error{Kind: ErrKindServer, Message: msg, Status: status}
}

// --- Predicates ---

// IsValidation reports whether err was rejected before any network call.
func IsValidation(err error) bool {
	return kindOf(err) == ErrKindValidation
}

// IsNetwork reports whether err is a connectivity failure or a timeout.
func IsNetwork(err error) bool {
	k := kindOf(err)
	return k == ErrKindNetwork || k == ErrKindTimeout
}

// IsTimeout reports whether err was caused by a deadline or abort.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsServer reports whether err is a non-2xx response from the backend.
func IsServer(err error) bool {
	return kindOf(err) == ErrKindServer
}

// IsProtocol reports whether err is a 2xx response of the wrong shape.
func IsProtocol(err error) bool {
	return kindOf(err) == ErrKindProtocol
}

// IsBusy reports whether err was an admission-control rejection.
func IsBusy(err error) bool {
	return kindOf(err) == ErrKindBusy
}

// IsNotFound reports whether err represents a missing summary or object.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return kindOf(err) == ErrKindPermissionDenied
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

// UserMessage returns the text to show in the status region for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
