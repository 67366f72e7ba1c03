// Package interfaces defines the contracts between the session, signing,
// storage, and transport layers.
package interfaces

import (
	"context"
	"errors"
	"net/http"

	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

// ErrRefreshUnsupported is returned by Refresh when a provider has no silent
// refresh flow; the session manager falls through to full login.
var ErrRefreshUnsupported = errors.New("provider does not support silent refresh")

// RequestSigner attaches one provider's authentication envelope to an
// outbound request. Signing is a pure function of (request, session state);
// a signer never triggers authentication.
type RequestSigner interface {
	Sign(req *http.Request, body []byte) error
}

// AuthContext is the run-time handle proving a caller may issue signed
// requests for an account. It never exposes raw tokens.
type AuthContext interface {
	RequestSigner
	Provider() models.Provider
	AccountID() string
	Environment() models.Environment
}

// LoginOptions carries per-attempt material for a full login.
type LoginOptions struct {
	// MFACode is the caller-supplied one-time code resolving an MFA prompt.
	MFACode string
	// BackupCode substitutes for MFACode when the authenticator device is lost.
	BackupCode string
	// ChallengeID and ChallengeResponse resolve a pending device challenge.
	ChallengeID       string
	ChallengeResponse string
	// DeviceToken is the persisted device identity, resent so the provider
	// can recognize a previously verified device.
	DeviceToken string
	// RefreshToken and ConsumerKey carry the seeded OAuth material for
	// providers whose full login is a refresh-token exchange.
	RefreshToken string
	ConsumerKey  string
	// Environment selects sandbox or live endpoints.
	Environment models.Environment
}

// Authenticator implements one provider's login state machine.
type Authenticator interface {
	Provider() models.Provider

	// Login performs a full credential exchange and returns a fresh session
	// record. A challenge requirement surfaces as an autherr with
	// KindMFARequired or KindDeviceVerification carrying the challenge.
	Login(ctx context.Context, cred models.Credential, opts LoginOptions) (*models.SessionRecord, error)

	// Refresh silently renews an expired record, or returns
	// ErrRefreshUnsupported when the provider has no refresh flow.
	Refresh(ctx context.Context, rec *models.SessionRecord) (*models.SessionRecord, error)

	// Signer builds the request signer for a live session record.
	Signer(rec *models.SessionRecord, cred models.Credential) (RequestSigner, error)
}

// SessionService is the slice of the session manager the transport dispatcher
// depends on for auth-expiry recovery.
type SessionService interface {
	// Invalidate clears the cached and persisted session, forcing the next
	// acquire to perform a full login.
	Invalidate(ctx context.Context, provider models.Provider, accountID string) error

	// Reacquire produces a valid context for an account whose credential is
	// already vaulted, performing refresh or full login as needed.
	Reacquire(ctx context.Context, provider models.Provider, accountID string) (AuthContext, error)
}
