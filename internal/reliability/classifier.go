package reliability

import (
	"context"
	"errors"
	"net"
)

// StatusCoder is implemented by upstream errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Class is the user-facing classification of an upstream failure. Retryable
// means resending the same message later may succeed; nothing retries automatically.
type Class struct {
	Code      string
	Retryable bool
}

var (
	ClassRateLimited        = Class{Code: "rate_limited", Retryable: true}
	ClassUnavailable        = Class{Code: "upstream_unavailable", Retryable: true}
	ClassTimeout            = Class{Code: "upstream_timeout", Retryable: true}
	ClassInvalidCredentials = Class{Code: "invalid_credentials", Retryable: false}
	ClassRejected           = Class{Code: "request_rejected", Retryable: false}
	ClassBadResponse        = Class{Code: "bad_response", Retryable: true}
	ClassUnknown            = Class{Code: "upstream_error", Retryable: true}
)

// ErrMalformedResponse marks upstream replies that could not be used.
var ErrMalformedResponse = errors.New("malformed upstream response")

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status from the model provider onto a Class.
func ClassifyStatus(code int) Class {
	switch {
	case code == 429:
		return ClassRateLimited
	case code == 401 || code == 403:
		return ClassInvalidCredentials
	case IsRetryableHTTPStatus(code):
		return ClassUnavailable
	case code >= 400 && code < 500:
		return ClassRejected
	default:
		return ClassUnknown
	}
}

// Classify inspects an upstream error chain.
func Classify(err error) Class {
	if err == nil {
		return Class{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ClassBadResponse
	}
	var sc StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return ClassifyStatus(sc.StatusCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassUnavailable
	}
	return ClassUnknown
}
