package router

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable matches every error returned by Router.Call.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrTimeout marks a call aborted because its timeout elapsed.
	ErrTimeout = errors.New("request timed out")
	// ErrCanceled marks a call abandoned by its caller, through cancellation
	// or the caller's own deadline. It never counts against the service.
	ErrCanceled = errors.New("call abandoned by caller")
)

// Kind classifies why a call failed.
type Kind string

const (
	KindNotConfigured  Kind = "not_configured"
	KindCircuitOpen    Kind = "circuit_open"
	KindTimeout        Kind = "timeout"
	KindDownstream     Kind = "downstream"
	KindCanceled       Kind = "canceled"
	KindInvalidRequest Kind = "invalid_request"
)

// UnavailableError is the uniform failure of a downstream call.
type UnavailableError struct {
	Service    string
	Endpoint   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("service %s unavailable (%s %s): %v", e.Service, e.Kind, e.Endpoint, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// KindOf returns the failure kind of err, or "" when err is not an
// *UnavailableError.
func KindOf(err error) Kind {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}
