package interfaces

import (
	"context"

	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

// SessionStore persists session records keyed by (provider, account).
//
// Load resolves a missing record, a schema-version mismatch, or a failed
// decryption to (nil, nil): absent, never an error the manager must branch
// on. Only infrastructure failures (unreadable directory, closed database)
// return an error, and the manager treats those as absent too.
//
// When passcode is non-empty the serialized record is sealed with an
// authenticated cipher; tampering or a wrong passcode fails closed.
type SessionStore interface {
	Save(ctx context.Context, rec *models.SessionRecord, passcode string) error
	Load(ctx context.Context, provider models.Provider, accountID, passcode string) (*models.SessionRecord, error)
	Clear(ctx context.Context, provider models.Provider, accountID string) error
	Close() error
}
