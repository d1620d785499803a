package ailink

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/tripbundle/tripbundle/internal/ailink/driver"
)

// ErrorClass groups provider failures by how callers should react to them.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassAuth        ErrorClass = "auth"
	ClassUnreachable ErrorClass = "unreachable"
	ClassRateLimit   ErrorClass = "rate_limit"
	ClassUnavailable ErrorClass = "unavailable"
	ClassTimeout     ErrorClass = "timeout"
	ClassBadRequest  ErrorClass = "bad_request"
	ClassMalformed   ErrorClass = "malformed"
	ClassUnknown     ErrorClass = "unknown"
)

// Classify maps a completion error onto an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrNoCredential) {
		return ClassAuth
	}

	var rawErr *RawResponseError
	if errors.As(err, &rawErr) || errors.Is(err, ErrMalformedResponse) {
		return ClassMalformed
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil && perr.StatusCode > 0 {
		status := perr.StatusCode
		switch {
		case status == 401 || status == 403:
			return ClassAuth
		case status == 429:
			return ClassRateLimit
		case status >= 500 && status <= 599:
			return ClassUnavailable
		case status >= 400 && status <= 499:
			if looksLikeKeyRejection(perr.Message) {
				return ClassAuth
			}
			return ClassBadRequest
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ClassUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ClassUnreachable
	}

	return ClassUnknown
}

// IsRequestFatal reports whether the class makes every further call to the
// same provider pointless.
func (c ErrorClass) IsRequestFatal() bool {
	return c == ClassAuth || c == ClassUnreachable
}

func looksLikeKeyRejection(message string) bool {
	lower := strings.ToLower(message)
	if !strings.Contains(lower, "api key") && !strings.Contains(lower, "api_key") {
		return false
	}
	return strings.Contains(lower, "invalid") || strings.Contains(lower, "not valid") || strings.Contains(lower, "incorrect")
}
