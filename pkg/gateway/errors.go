package gateway

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError reports a call rejected because the backend's circuit
// breaker is open. No backend attempt was made.
type CircuitOpenError struct {
	Backend string
	RetryAt time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("backend %s unavailable (circuit open, retry after %s)",
		e.Backend, e.RetryAt.UTC().Format(time.RFC3339))
}

// IsCircuitOpen reports whether err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}
