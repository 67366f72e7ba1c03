// Package transport sends signed requests, classifies outcomes, and applies
// the single centralized retry policy.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Outcome buckets every HTTP/network result into one retry-policy class.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthExpired
	OutcomeRateLimited
	OutcomeTransient
	OutcomeClientError
	OutcomeProtocolError
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthExpired:
		return "auth_expired"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient_network"
	case OutcomeClientError:
		return "client_error"
	default:
		return "protocol_error"
	}
}

// Classification is the dispatcher's judgment of one attempt.
type Classification struct {
	Outcome    Outcome
	Status     int
	RetryAfter time.Duration // 429 hint, zero when absent

	// Sent reports whether the request plausibly reached the provider.
	// Decides whether a failed write is "not executed" or "unknown outcome".
	Sent bool
}

// Classify buckets a transport error or HTTP response.
func Classify(resp *http.Response, err error) Classification {
	if err != nil {
		return classifyError(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Classification{Outcome: OutcomeSuccess, Status: resp.StatusCode, Sent: true}

	case resp.StatusCode == http.StatusUnauthorized:
		return Classification{Outcome: OutcomeAuthExpired, Status: resp.StatusCode, Sent: true}

	case resp.StatusCode == http.StatusTooManyRequests:
		return Classification{
			Outcome:    OutcomeRateLimited,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Sent:       true,
		}

	case resp.StatusCode >= 500:
		return Classification{Outcome: OutcomeTransient, Status: resp.StatusCode, Sent: true}

	default:
		return Classification{Outcome: OutcomeClientError, Status: resp.StatusCode, Sent: true}
	}
}

// classifyError buckets connection-level failures. A refused or unresolvable
// connection never carried the request; a timeout may have.
func classifyError(err error) Classification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Outcome: OutcomeTransient, Sent: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Outcome: OutcomeTransient, Sent: true}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Classification{Outcome: OutcomeTransient, Sent: false}
	}

	return Classification{Outcome: OutcomeTransient, Sent: true}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
