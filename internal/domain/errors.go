package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
	ErrConfiguration   = errors.New("configuration error")

	// ErrStaleWrite is returned by stores when a conditional write lost to a
	// concurrent writer. It never leaves the application layer.
	ErrStaleWrite = errors.New("stale write")
)

// Recovery tells a client which path to render after a denial.
type Recovery string

const (
	RecoveryNone           Recovery = ""
	RecoveryRetry          Recovery = "retry"
	RecoveryReload         Recovery = "reload"
	RecoveryContactSupport Recovery = "contact_support"
)

// DenialError is the typed failure returned by the access service. Kind is one
// of the sentinels above, so errors.Is(err, ErrTooManyRequests) works on it.
type DenialError struct {
	Kind        error
	Message     string
	Locked      bool
	LockReason  string
	WaitSeconds int
}

func (e *DenialError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DenialError) Unwrap() error { return e.Kind }

// Deny builds a DenialError of the given kind.
func Deny(kind error, msg string) *DenialError {
	return &DenialError{Kind: kind, Message: msg}
}

// RecoveryFor classifies err into the recovery path a buyer should be shown.
func RecoveryFor(err error) Recovery {
	var de *DenialError
	if errors.As(err, &de) && de.Locked {
		return RecoveryContactSupport
	}
	switch {
	case err == nil:
		return RecoveryNone
	case errors.Is(err, ErrTooManyRequests):
		return RecoveryRetry
	case errors.Is(err, ErrConflict):
		return RecoveryReload
	case errors.Is(err, ErrForbidden):
		return RecoveryContactSupport
	default:
		return RecoveryNone
	}
}
