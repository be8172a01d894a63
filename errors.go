package braid

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyInput is returned when a run or request has nothing to work on.
var ErrEmptyInput = errors.New("empty input")

// ErrCancelled is recorded when a run stops because its context was cancelled.
var ErrCancelled = errors.New("run cancelled")

// ErrorCategory says how a failed model call should be handled.
type ErrorCategory string

const (
	// ErrorTransient failures may succeed when retried: rate limits,
	// overloaded servers, dropped connections.
	ErrorTransient ErrorCategory = "transient"
	// ErrorPermanent failures will not: bad credentials, unknown model.
	ErrorPermanent ErrorCategory = "permanent"
	// ErrorUserInput failures need a different request.
	ErrorUserInput ErrorCategory = "user_input"
)

// CategorizedError is implemented by errors that know their category.
// Provider adapters return them so the step loop can decide on retries.
type CategorizedError interface {
	error
	Category() ErrorCategory
	StatusCode() int
	RetryAfter() time.Duration
}

// Error is a model call failure reported by a provider adapter.
type Error struct {
	Msg   string
	Kind  ErrorCategory
	Code  int           // HTTP status, 0 when unknown
	Wait  time.Duration // server suggested delay, 0 when absent
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Category implements CategorizedError.
func (e *Error) Category() ErrorCategory { return e.Kind }

// StatusCode implements CategorizedError.
func (e *Error) StatusCode() int { return e.Code }

// RetryAfter implements CategorizedError.
func (e *Error) RetryAfter() time.Duration { return e.Wait }

// NewTransientError returns an error worth retrying.
func NewTransientError(msg string, statusCode int, cause error) *Error {
	return &Error{Msg: msg, Kind: ErrorTransient, Code: statusCode, Cause: cause}
}

// NewTransientErrorWithRetry is NewTransientError with the delay the
// server asked for.
func NewTransientErrorWithRetry(msg string, statusCode int, retryAfter time.Duration, cause error) *Error {
	e := NewTransientError(msg, statusCode, cause)
	e.Wait = retryAfter
	return e
}

// NewPermanentError returns an error that retrying cannot fix.
func NewPermanentError(msg string, statusCode int, cause error) *Error {
	return &Error{Msg: msg, Kind: ErrorPermanent, Code: statusCode, Cause: cause}
}

// NewUserInputError returns an error caused by the request itself.
func NewUserInputError(msg string, statusCode int, cause error) *Error {
	return &Error{Msg: msg, Kind: ErrorUserInput, Code: statusCode, Cause: cause}
}

func categorized(err error) (CategorizedError, bool) {
	var ce CategorizedError
	ok := errors.As(err, &ce)
	return ce, ok
}

// CategoryOf returns the category of the first CategorizedError in err's
// chain, or "" when there is none.
func CategoryOf(err error) ErrorCategory {
	if ce, ok := categorized(err); ok {
		return ce.Category()
	}
	return ""
}

// IsTransient reports whether err is categorized as transient.
func IsTransient(err error) bool { return CategoryOf(err) == ErrorTransient }

// IsPermanent reports whether err is categorized as permanent.
func IsPermanent(err error) bool { return CategoryOf(err) == ErrorPermanent }

// IsUserInput reports whether err is categorized as a user input error.
func IsUserInput(err error) bool { return CategoryOf(err) == ErrorUserInput }

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	if ce, ok := categorized(err); ok {
		return ce.StatusCode()
	}
	return 0
}

// RetryAfterOf returns the retry delay carried by err, or 0.
func RetryAfterOf(err error) time.Duration {
	if ce, ok := categorized(err); ok {
		return ce.RetryAfter()
	}
	return 0
}
