package recognition

import (
	"errors"
	"fmt"
)

// Kind classifies a recognition failure.
type Kind int

const (
	KindTransient Kind = iota + 1
	KindExhausted
	KindAuthentication
	KindRateLimited
	KindClient
	KindTransport
	KindMalformedResponse
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindExhausted:
		return "exhausted"
	case KindAuthentication:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindClient:
		return "client"
	case KindTransport:
		return "transport"
	case KindMalformedResponse:
		return "malformed_response"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Error is returned by Recognize for every service-side failure.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when no HTTP response was received
	Attempts   int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d %s)", msg, e.StatusCode, StatusDescription(e.StatusCode))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// IsAuth reports whether err is an authentication failure, which callers
// surface so the endpoint credential can be reconfigured.
func IsAuth(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindAuthentication
}

// IsCancelled reports whether err came from caller cancellation.
func IsCancelled(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindCancelled
	}
	return false
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// StatusDescription gives a short label for the status codes the service
// commonly returns.
func StatusDescription(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Payload Too Large"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	}
	return "Unknown Status"
}

func classifyStatus(code int) Kind {
	switch {
	case code >= 500 && code < 600:
		return KindTransient
	case code == 429:
		return KindRateLimited
	case code == 401 || code == 403:
		return KindAuthentication
	}
	return KindClient
}
