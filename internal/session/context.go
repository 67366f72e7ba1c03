// Package session orchestrates the provider login state machines and owns
// every session record mutation.
package session

import (
	"net/http"
	"time"

	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

// AuthenticatedContext is the run-time handle returned to callers. It signs
// outbound requests for its account without exposing raw tokens.
type AuthenticatedContext struct {
	provider    models.Provider
	accountID   string
	environment models.Environment
	expiresAt   time.Time
	authSeq     uint64
	signer      interfaces.RequestSigner
}

// Provider returns the context's brokerage.
func (c *AuthenticatedContext) Provider() models.Provider {
	return c.provider
}

// AccountID returns the context's account identity.
func (c *AuthenticatedContext) AccountID() string {
	return c.accountID
}

// Environment returns which endpoint set the context targets.
func (c *AuthenticatedContext) Environment() models.Environment {
	return c.environment
}

// ExpiresAt returns when the backing session stops being reusable.
func (c *AuthenticatedContext) ExpiresAt() time.Time {
	return c.expiresAt
}

// Sign attaches the provider's authentication envelope to req.
func (c *AuthenticatedContext) Sign(req *http.Request, body []byte) error {
	return c.signer.Sign(req, body)
}

var _ interfaces.AuthContext = (*AuthenticatedContext)(nil)
