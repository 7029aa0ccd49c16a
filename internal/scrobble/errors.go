package scrobble

import (
	"context"
	"errors"
	"fmt"
)

// RetryableError marks a transient delivery failure: network trouble,
// server errors, rate limits. The queue backs off and tries again.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix: bad credentials,
// malformed payload, a record the service rejects outright.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewRetryableError wraps an existing error as retryable.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// NewPermanentError wraps an existing error as permanent.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// Retryablef wraps a formatted error as retryable.
func Retryablef(format string, args ...any) error {
	return &RetryableError{Err: fmt.Errorf(format, args...)}
}

// Permanentf wraps a formatted error as permanent.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// Permanent reports whether err is terminal for its (record, backend) pair.
// Anything not explicitly permanent is treated as retryable, so an
// unclassified transport error is never silently dropped. Context
// cancellation is retryable: it means the sweep was shut down mid-flight.
func Permanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *PermanentError
	return errors.As(err, &perm)
}
