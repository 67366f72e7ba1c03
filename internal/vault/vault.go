// Package vault holds raw credential material in memory for the duration of
// a process. Nothing in this package is ever serialized; the session manager
// is the only consumer.
package vault

import (
	"sync"

	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

// Vault is an in-memory credential holder keyed by (provider, account).
type Vault struct {
	mu    sync.RWMutex
	creds map[string]models.Credential
}

// New creates an empty vault.
func New() *Vault {
	return &Vault{creds: make(map[string]models.Credential)}
}

// Put stores or replaces the credential for its account.
func (v *Vault) Put(cred models.Credential) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds[cred.Key()] = cred
}

// Get returns the credential for an account and whether one is held.
func (v *Vault) Get(provider models.Provider, accountID string) (models.Credential, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cred, ok := v.creds[models.SessionKey(provider, accountID)]
	return cred, ok
}

// Forget drops the credential for an account. Idempotent.
func (v *Vault) Forget(provider models.Provider, accountID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.creds, models.SessionKey(provider, accountID))
}

// Wipe drops every held credential.
func (v *Vault) Wipe() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds = make(map[string]models.Credential)
}
