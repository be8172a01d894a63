// Package provider holds helpers shared by the model adapters.
package provider

import (
	"net/http"
	"strconv"
	"time"

	ai "github.com/spetersoncode/braid"
)

// Categorize wraps an API error with the category implied by its HTTP
// status code. A positive retryAfter always makes the error transient.
func Categorize(err error, code int, retryAfter time.Duration) error {
	msg := err.Error()
	if retryAfter > 0 {
		return ai.NewTransientErrorWithRetry(msg, code, retryAfter, err)
	}
	switch CategoryOf(code) {
	case ai.ErrorTransient:
		return ai.NewTransientError(msg, code, err)
	case ai.ErrorUserInput:
		return ai.NewUserInputError(msg, code, err)
	default:
		return ai.NewPermanentError(msg, code, err)
	}
}

// CategoryOf maps an HTTP status code to an error category.
func CategoryOf(code int) ai.ErrorCategory {
	switch {
	case code == 429, code == 408:
		return ai.ErrorTransient
	case code >= 500 && code < 600:
		return ai.ErrorTransient
	case code == 401 || code == 403:
		return ai.ErrorPermanent
	case code == 400 || code == 404 || code == 413 || code == 422:
		return ai.ErrorUserInput
	default:
		return ai.ErrorPermanent
	}
}

// RetryAfter reads the Retry-After header of resp, given either in
// seconds or as an HTTP date. It returns 0 when absent or unparsable.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
