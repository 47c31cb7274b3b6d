package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// APIError is an error response from an exchange. Status carries the HTTP
// status code when the transport is REST; zero means a transport-level
// failure.
type APIError struct {
	Exchange string
	Status   int
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: http %d %s: %s", e.Exchange, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Exchange, e.Code, e.Message)
}

// Retryable reports whether the error signals exchange ill-health: timeouts,
// connection errors, and 5xx responses. 4xx validation errors are caller
// bugs and must not be retried or counted against the circuit breaker.
func (e *APIError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500
}

// IsRetryable classifies any error from an adapter call. Network-level
// errors (net.Error, connection resets) and APIErrors with Retryable()==true
// are transient; everything else is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unknown error shapes are treated as transient; the retry budget is
	// bounded either way.
	return true
}

// IsRejection reports whether the error is a 4xx-class validation rejection.
func IsRejection(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500
	}
	return false
}
