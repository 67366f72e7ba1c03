// Package models defines the data types shared across the session layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionSchemaVersion is the current persisted session record schema.
// Records with any other version fail closed and are treated as absent.
const SessionSchemaVersion = 2

// Provider identifies one brokerage integration.
type Provider string

const (
	ProviderRobinhood Provider = "robinhood"
	ProviderGemini    Provider = "gemini"
	ProviderTDA       Provider = "tdameritrade"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderRobinhood, ProviderGemini, ProviderTDA:
		return true
	}
	return false
}

// KeySigned reports whether the provider signs every request with an API key
// pair instead of carrying a bearer token. Key-signed session records hold no
// access token.
func (p Provider) KeySigned() bool {
	return p == ProviderGemini
}

// Environment selects sandbox or live endpoints.
type Environment string

const (
	EnvLive    Environment = "live"
	EnvSandbox Environment = "sandbox"
)

// SessionState describes the lifecycle position of one account's session.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateExpired
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// SessionRecord is the persisted token/expiry/device state for one account.
// The session manager is the sole mutator; stores only marshal and unmarshal it.
type SessionRecord struct {
	SchemaVersion int         `json:"schema_version"`
	Provider      Provider    `json:"provider"`
	AccountID     string      `json:"account_id"`
	AccessToken   string      `json:"access_token,omitempty"`
	TokenType     string      `json:"token_type,omitempty"`
	RefreshToken  string      `json:"refresh_token,omitempty"`
	ExpiresAt     time.Time   `json:"expires_at"`
	DeviceToken   string      `json:"device_token,omitempty"`
	Environment   Environment `json:"environment"`

	// ConsumerKey is the OAuth application key for providers whose login is
	// a refresh-token exchange. Seeded once alongside the refresh token.
	ConsumerKey string `json:"consumer_key,omitempty"`

	// AuthSeq orders persisted writes by logical authentication sequence so a
	// stale login result can never overwrite a newer one.
	AuthSeq   uint64    `json:"auth_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the storage key for the record's (provider, account) pair.
func (r *SessionRecord) Key() string {
	return SessionKey(r.Provider, r.AccountID)
}

// SessionKey builds the storage key for a (provider, account) pair.
func SessionKey(provider Provider, accountID string) string {
	return string(provider) + "/" + accountID
}

// Complete reports whether every required field is present. An incomplete
// record is treated as absent, never partially consumed.
func (r *SessionRecord) Complete() bool {
	if r == nil {
		return false
	}
	if r.SchemaVersion != SessionSchemaVersion || !r.Provider.Valid() || r.AccountID == "" {
		return false
	}
	if r.ExpiresAt.IsZero() {
		return false
	}
	if !r.Provider.KeySigned() && r.AccessToken == "" {
		return false
	}
	return true
}

// Usable reports whether the record can back an authenticated context at the
// given instant, applying the clock-skew safety margin to the expiry.
func (r *SessionRecord) Usable(now time.Time, skew time.Duration) bool {
	return r.Complete() && now.Add(skew).Before(r.ExpiresAt)
}

// Clone returns a deep copy. Callers hand copies to waiters so the manager's
// canonical record is never aliased.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// NewDeviceToken generates a stable random device identifier. Generated once
// per account and persisted; resent on every login so the provider can
// recognize a previously verified device.
func NewDeviceToken() string {
	return uuid.NewString()
}

// ChallengeType distinguishes the second-factor flavors a login can demand.
type ChallengeType string

const (
	ChallengeSMS    ChallengeType = "sms"
	ChallengeEmail  ChallengeType = "email"
	ChallengeDevice ChallengeType = "device"
)

// Challenge is the transient record of an in-progress second-factor or
// device-verification exchange. Never persisted across process restarts.
type Challenge struct {
	ID        string        `json:"id"`
	Type      ChallengeType `json:"type"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the challenge window has closed.
func (c *Challenge) Expired(now time.Time) bool {
	return c == nil || (!c.ExpiresAt.IsZero() && now.After(c.ExpiresAt))
}
