package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

// Error is returned once a provider call gave up, either on a permanent
// failure or after exhausting its attempts.
type Error struct {
	Op       string // extract | analyze
	Provider string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s %s failed after %d attempt(s): %v", e.Provider, e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == common.ErrProvider }

// TimeoutError reports a single attempt that ran past its deadline.
type TimeoutError struct {
	Op       string
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s %s timed out after %s", e.Provider, e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == common.ErrProviderTimeout || target == common.ErrProvider
}

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the status is worth another attempt.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable, e.g. model output that fails validation.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient decides whether a failed attempt may be retried. Network
// failures, per-attempt timeouts, 408, 429 and 5xx are transient; anything
// else is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
