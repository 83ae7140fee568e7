package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AdapterError wraps backend errors with status metadata.
type AdapterError struct {
	Backend   string
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Backend, e.Err.Error())
	}
	return fmt.Sprintf("%s: adapter error (status=%d)", e.Backend, e.Status)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewTransientError marks an error safe to retry.
func NewTransientError(backend string, err error) *AdapterError {
	return &AdapterError{Backend: backend, Temporary: true, Err: err}
}

// NewPermanentError marks an error that must not be retried.
func NewPermanentError(backend string, err error) *AdapterError {
	return &AdapterError{Backend: backend, Temporary: false, Err: err}
}

// statusError builds an AdapterError from an HTTP status, classifying
// 429 and 5xx as temporary.
func statusError(backend string, status int, err error) *AdapterError {
	return &AdapterError{
		Backend:   backend,
		Status:    status,
		Temporary: status == 429 || (status >= 500 && status <= 599),
		Err:       err,
	}
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		if adapterErr.Temporary {
			return true
		}
		if adapterErr.Status == 429 || (adapterErr.Status >= 500 && adapterErr.Status <= 599) {
			return true
		}
	}
	return false
}
