package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/vault"
)

// DefaultClockSkew is the expiry safety margin applied when none is configured.
const DefaultClockSkew = 30 * time.Second

// Options carries per-attempt caller input for Authenticate.
type Options struct {
	// MFACode resolves an MFA prompt from a previous attempt.
	MFACode string
	// BackupCode substitutes for MFACode.
	BackupCode string
	// ChallengeID and ChallengeResponse resolve a pending device challenge.
	ChallengeID       string
	ChallengeResponse string
	// ForceLogin skips the cached session and performs a full login.
	ForceLogin bool
}

// account is the per-account mutable state. Its mutex serializes store reads
// and writes with the authentication operation so a stale record can never be
// persisted over a newer one.
type account struct {
	mu  sync.Mutex
	rec *models.SessionRecord
	seq uint64 // last issued logical authentication sequence

	// pendingDevice is the device token of an in-progress login attempt that
	// stopped at an MFA prompt or device challenge. The resolving attempt must
	// present the same token the challenge was issued against.
	pendingDevice string
}

// Manager produces valid authenticated contexts while minimizing redundant
// logins. It is the sole mutator of session records and device identities.
type Manager struct {
	store       interfaces.SessionStore
	vault       *vault.Vault
	logger      *common.Logger
	environment models.Environment
	skew        time.Duration

	auths map[models.Provider]interfaces.Authenticator

	// group collapses concurrent authentication attempts per account: all
	// waiters receive the result of the single in-flight attempt.
	group singleflight.Group

	mu       sync.Mutex
	accounts map[string]*account
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClockSkew sets the expiry safety margin.
func WithClockSkew(skew time.Duration) ManagerOption {
	return func(m *Manager) {
		m.skew = skew
	}
}

// WithEnvironment selects sandbox or live endpoints for logins.
func WithEnvironment(env models.Environment) ManagerOption {
	return func(m *Manager) {
		m.environment = env
	}
}

// NewManager creates a session manager over a store, a credential vault, and
// the provider authenticators.
func NewManager(store interfaces.SessionStore, v *vault.Vault, auths []interfaces.Authenticator, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		vault:       v,
		logger:      common.NewSilentLogger(),
		environment: models.EnvLive,
		skew:        DefaultClockSkew,
		auths:       make(map[models.Provider]interfaces.Authenticator, len(auths)),
		accounts:    make(map[string]*account),
	}
	for _, a := range auths {
		m.auths[a.Provider()] = a
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate produces a valid authenticated context for the credential's
// account. The credential is vaulted so later re-authentication (dispatcher
// 401 recovery) needs no caller involvement.
func (m *Manager) Authenticate(ctx context.Context, cred models.Credential, opts Options) (*AuthenticatedContext, error) {
	if !cred.Complete() {
		return nil, autherr.E(autherr.KindInvalidCredential, "incomplete credential for provider %q", cred.Provider)
	}
	if _, ok := m.auths[cred.Provider]; !ok {
		return nil, autherr.E(autherr.KindInvalidCredential, "no authenticator registered for provider %q", cred.Provider)
	}

	m.vault.Put(cred)
	return m.acquire(ctx, cred.Provider, cred.AccountID, opts)
}

// Reacquire produces a valid context for an account whose credential is
// already vaulted. Used by the transport dispatcher on auth expiry.
func (m *Manager) Reacquire(ctx context.Context, provider models.Provider, accountID string) (interfaces.AuthContext, error) {
	if _, ok := m.vault.Get(provider, accountID); !ok {
		return nil, autherr.E(autherr.KindUnauthenticated, "no credential vaulted for %s", models.SessionKey(provider, accountID))
	}
	return m.acquire(ctx, provider, accountID, Options{})
}

// Invalidate clears the cached and persisted session, forcing the next
// authenticate to perform a full login. A no-op on an already
// unauthenticated account.
func (m *Manager) Invalidate(ctx context.Context, provider models.Provider, accountID string) error {
	acct := m.account(provider, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.rec = nil
	if err := m.store.Clear(ctx, provider, accountID); err != nil {
		return autherr.Wrap(autherr.KindStoreError, err, "failed to clear persisted session")
	}
	m.logger.Debug().
		Str("provider", string(provider)).
		Str("account", accountID).
		Msg("Session invalidated")
	return nil
}

// GetState reports the lifecycle state of an account's session. A pure read:
// it consults memory and the store, never the network.
func (m *Manager) GetState(ctx context.Context, provider models.Provider, accountID string) models.SessionState {
	acct := m.account(provider, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	rec := acct.rec
	if rec == nil {
		rec = m.loadLocked(ctx, provider, accountID)
	}
	switch {
	case rec == nil || !rec.Complete():
		return models.StateUnauthenticated
	case rec.Usable(time.Now(), m.skew):
		return models.StateAuthenticated
	default:
		return models.StateExpired
	}
}

// SeedRefreshToken installs OAuth material obtained out of band (the one-time
// browser consent dance) so encrypted-refresh providers can log in. The
// record is persisted sealed under the vaulted passcode with an expiry in the
// past, so the next authenticate performs the exchange.
func (m *Manager) SeedRefreshToken(ctx context.Context, provider models.Provider, accountID, refreshToken, consumerKey string) error {
	if refreshToken == "" {
		return autherr.E(autherr.KindInvalidCredential, "refresh token is required")
	}
	cred, ok := m.vault.Get(provider, accountID)
	if !ok {
		return autherr.E(autherr.KindUnauthenticated, "vault the account credential before seeding")
	}

	acct := m.account(provider, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.seq++
	rec := &models.SessionRecord{
		SchemaVersion: models.SessionSchemaVersion,
		Provider:      provider,
		AccountID:     accountID,
		RefreshToken:  refreshToken,
		ConsumerKey:   consumerKey,
		Environment:   m.environment,
		ExpiresAt:     time.Now().Add(-time.Second),
		AuthSeq:       acct.seq,
		UpdatedAt:     time.Now(),
	}
	// Deliberately not cached in memory: the record is expired by
	// construction and exists only to feed the next login.
	if err := m.store.Save(ctx, rec, cred.Passcode); err != nil {
		return autherr.Wrap(autherr.KindStoreError, err, "failed to persist seeded refresh token")
	}
	return nil
}

// acquire runs the reuse / refresh / full-login decision for one account.
func (m *Manager) acquire(ctx context.Context, provider models.Provider, accountID string, opts Options) (*AuthenticatedContext, error) {
	key := models.SessionKey(provider, accountID)

	// Fast path: a cached usable session needs no coordination and no
	// network, only signer construction.
	if !opts.ForceLogin {
		if actx, ok := m.cachedContext(provider, accountID); ok {
			return actx, nil
		}
	}

	// Concurrent callers that observe an expired or absent session wait on
	// the single in-flight attempt and share its result.
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.authenticateFlow(ctx, provider, accountID, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AuthenticatedContext), nil
}

// authenticateFlow is the singleflight body: load, reuse, refresh, or full
// login, then persist, all under the account lock.
func (m *Manager) authenticateFlow(ctx context.Context, provider models.Provider, accountID string, opts Options) (*AuthenticatedContext, error) {
	auth := m.auths[provider]
	cred, _ := m.vault.Get(provider, accountID)

	acct := m.account(provider, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.rec == nil {
		acct.rec = m.loadLocked(ctx, provider, accountID)
	}

	// Step 1: reuse a valid cached session.
	if !opts.ForceLogin && acct.rec.Usable(time.Now(), m.skew) {
		return m.contextLocked(acct, cred)
	}

	// Step 2: silent refresh when a refresh token is present.
	if !opts.ForceLogin && acct.rec != nil && acct.rec.RefreshToken != "" {
		refreshed, err := auth.Refresh(ctx, acct.rec.Clone())
		switch {
		case err == nil:
			m.adoptLocked(acct, provider, accountID, refreshed)
			m.persistLocked(ctx, acct, cred)
			return m.contextLocked(acct, cred)

		case errors.Is(err, interfaces.ErrRefreshUnsupported),
			autherr.IsKind(err, autherr.KindProviderRejected),
			autherr.IsKind(err, autherr.KindInvalidCredential):
			// Fall through to full login.
			m.logger.Debug().
				Str("provider", string(provider)).
				Str("account", accountID).
				Err(err).
				Msg("Silent refresh unavailable, performing full login")

		default:
			return nil, err
		}
	}

	// Step 3: full login with vaulted material plus the persisted device
	// identity. A challenge left by a previous attempt takes priority over a
	// freshly generated token.
	device := acct.pendingDevice
	if device == "" && acct.rec != nil {
		device = acct.rec.DeviceToken
	}
	if device == "" {
		device = models.NewDeviceToken()
	}

	loginOpts := interfaces.LoginOptions{
		MFACode:           opts.MFACode,
		BackupCode:        opts.BackupCode,
		ChallengeID:       opts.ChallengeID,
		ChallengeResponse: opts.ChallengeResponse,
		DeviceToken:       device,
		Environment:       m.environment,
	}
	if acct.rec != nil {
		loginOpts.RefreshToken = acct.rec.RefreshToken
		loginOpts.ConsumerKey = acct.rec.ConsumerKey
	}

	fresh, err := auth.Login(ctx, cred, loginOpts)
	if err != nil {
		// The provider issued a challenge against this device token; the
		// resolving attempt has to present the same one.
		if autherr.IsKind(err, autherr.KindMFARequired) || autherr.IsKind(err, autherr.KindDeviceVerification) {
			acct.pendingDevice = device
		}
		return nil, err
	}
	acct.pendingDevice = ""
	fresh.DeviceToken = device

	// Step 4: persist and hand back the context.
	m.adoptLocked(acct, provider, accountID, fresh)
	m.persistLocked(ctx, acct, cred)
	return m.contextLocked(acct, cred)
}

// adoptLocked stamps identity, schema, and ordering fields onto a record the
// authenticator produced and makes it the account's canonical session.
func (m *Manager) adoptLocked(acct *account, provider models.Provider, accountID string, rec *models.SessionRecord) {
	acct.seq++
	rec.SchemaVersion = models.SessionSchemaVersion
	rec.Provider = provider
	rec.AccountID = accountID
	rec.Environment = m.environment
	rec.AuthSeq = acct.seq
	rec.UpdatedAt = time.Now()
	if rec.DeviceToken == "" && acct.rec != nil {
		rec.DeviceToken = acct.rec.DeviceToken
	}
	acct.rec = rec
}

// persistLocked writes the canonical record. Writes carry the logical auth
// sequence; anything older than what the account already issued is dropped.
// A store failure downgrades to a warning: authentication succeeded, only
// durability suffered.
func (m *Manager) persistLocked(ctx context.Context, acct *account, cred models.Credential) {
	if acct.rec == nil || acct.rec.AuthSeq < acct.seq {
		return
	}
	if err := m.store.Save(ctx, acct.rec.Clone(), cred.Passcode); err != nil {
		m.logger.Warn().
			Str("account", acct.rec.Key()).
			Err(err).
			Msg("Failed to persist session record")
	}
}

// loadLocked reads the persisted record, folding every store-side failure
// into absence. Called with the account lock held.
func (m *Manager) loadLocked(ctx context.Context, provider models.Provider, accountID string) *models.SessionRecord {
	passcode := ""
	if cred, ok := m.vault.Get(provider, accountID); ok {
		passcode = cred.Passcode
	}
	rec, err := m.store.Load(ctx, provider, accountID, passcode)
	if err != nil {
		m.logger.Warn().
			Str("provider", string(provider)).
			Str("account", accountID).
			Err(err).
			Msg("Session store read failed, treating session as absent")
		return nil
	}
	// An incomplete record that still carries a refresh token is kept: it
	// cannot back a context, but it feeds the silent refresh step. Seeded
	// refresh material arrives in exactly this shape.
	if rec != nil && !rec.Complete() && rec.RefreshToken == "" {
		return nil
	}
	return rec
}

// contextLocked builds an authenticated context from the canonical record.
func (m *Manager) contextLocked(acct *account, cred models.Credential) (*AuthenticatedContext, error) {
	rec := acct.rec
	auth := m.auths[rec.Provider]
	sig, err := auth.Signer(rec, cred)
	if err != nil {
		return nil, err
	}
	return &AuthenticatedContext{
		provider:    rec.Provider,
		accountID:   rec.AccountID,
		environment: rec.Environment,
		expiresAt:   rec.ExpiresAt,
		authSeq:     rec.AuthSeq,
		signer:      sig,
	}, nil
}

// cachedContext returns a context for a usable in-memory session, if any.
func (m *Manager) cachedContext(provider models.Provider, accountID string) (*AuthenticatedContext, bool) {
	acct := m.account(provider, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if !acct.rec.Usable(time.Now(), m.skew) {
		return nil, false
	}
	cred, _ := m.vault.Get(provider, accountID)
	actx, err := m.contextLocked(acct, cred)
	if err != nil {
		return nil, false
	}
	return actx, true
}

// account returns the state holder for a (provider, account) pair.
func (m *Manager) account(provider models.Provider, accountID string) *account {
	key := models.SessionKey(provider, accountID)
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[key]
	if !ok {
		acct = &account{}
		m.accounts[key] = acct
	}
	return acct
}

// Ensure Manager satisfies the dispatcher-facing contract.
var _ interfaces.SessionService = (*Manager)(nil)
