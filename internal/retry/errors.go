package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	ai "github.com/spetersoncode/braid"
)

type statusCoder interface {
	StatusCode() int
}

var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"overloaded",
	"bad gateway",
	"gateway timeout",
}

// IsTransient reports whether err is worth retrying. Categorized errors
// decide for themselves; otherwise rate limits, server errors and network
// failures are transient. Cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if cat := ai.CategoryOf(err); cat != "" {
		return cat == ai.ErrorTransient
	}

	var sc statusCoder
	if errors.As(err, &sc) && transientStatus(sc.StatusCode()) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func transientStatus(code int) bool {
	return code == 429 || (code >= 500 && code < 600)
}
