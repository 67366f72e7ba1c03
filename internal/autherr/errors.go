// Package autherr defines the shared error taxonomy for authentication,
// persistence, and request dispatch.
package autherr

import (
	"errors"
	"fmt"

	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

// Kind classifies a failure. Transient kinds are recovered internally by the
// dispatcher; all others surface to the caller as typed results.
type Kind string

const (
	// KindInvalidCredential means the supplied secret material was rejected.
	// Not retryable; the user must fix their input.
	KindInvalidCredential Kind = "invalid_credential"

	// KindMFARequired means the login needs a one-time code to continue.
	KindMFARequired Kind = "mfa_required"

	// KindDeviceVerification means the login needs a device challenge response.
	KindDeviceVerification Kind = "device_verification_required"

	// KindProviderRejected means a full login failed after provider-side retries.
	KindProviderRejected Kind = "provider_rejected"

	// KindUnauthenticated means no valid authenticated context exists.
	KindUnauthenticated Kind = "unauthenticated"

	// KindRateLimited means the provider throttled the request.
	KindRateLimited Kind = "rate_limited"

	// KindTransientNetwork covers timeouts, resets, and 5xx responses.
	KindTransientNetwork Kind = "transient_network"

	// KindClientError covers 4xx responses other than 401/429. Never retried.
	KindClientError Kind = "client_error"

	// KindProtocolError means the response body could not be interpreted.
	KindProtocolError Kind = "protocol_error"

	// KindStoreError means session persistence failed.
	KindStoreError Kind = "store_error"
)

// Retryable reports whether the dispatcher may retry a failure of this kind.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindTransientNetwork
}

// Error is a classified authentication or dispatch failure.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int

	// Challenge carries the pending second-factor exchange for
	// KindMFARequired and KindDeviceVerification so the caller can resolve
	// it on the next attempt.
	Challenge *models.Challenge

	// OutcomeUnknown marks a write that may or may not have reached the
	// provider. Callers must not blindly retry.
	OutcomeUnknown bool

	err error
}

// E builds an Error of the given kind.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// KindOf extracts the Kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ChallengeOf extracts a pending challenge from err, or nil.
func ChallengeOf(err error) *models.Challenge {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Challenge
	}
	return nil
}
