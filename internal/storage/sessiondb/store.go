// Package sessiondb implements the session store on BadgerHold for daemon
// deployments where many accounts share one embedded database.
package sessiondb

import (
	"context"
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/storage/seal"
)

// row is the stored value: the same sealed envelope the file backend writes,
// so encrypted-at-rest mode behaves identically across backends.
type row struct {
	Envelope []byte
}

// Store implements interfaces.SessionStore using BadgerHold.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

// NewStore creates a session store backed by BadgerHold.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessiondb path %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open sessiondb at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("SessionDB opened")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Save(_ context.Context, rec *models.SessionRecord, passcode string) error {
	data, err := seal.Seal(rec, passcode)
	if err != nil {
		return fmt.Errorf("failed to seal session record: %w", err)
	}
	if err := s.db.Upsert(rec.Key(), &row{Envelope: data}); err != nil {
		return fmt.Errorf("failed to save session for '%s': %w", rec.Key(), err)
	}
	return nil
}

func (s *Store) Load(_ context.Context, provider models.Provider, accountID, passcode string) (*models.SessionRecord, error) {
	var r row
	if err := s.db.Get(models.SessionKey(provider, accountID), &r); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session for '%s': %w", models.SessionKey(provider, accountID), err)
	}

	rec, ok := seal.Open(r.Envelope, passcode)
	if !ok {
		s.logger.Warn().
			Str("provider", string(provider)).
			Str("account", accountID).
			Msg("Stored session unreadable, treating as absent")
		return nil, nil
	}
	return rec, nil
}

func (s *Store) Clear(_ context.Context, provider models.Provider, accountID string) error {
	key := models.SessionKey(provider, accountID)
	if err := s.db.Delete(key, row{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to clear session for '%s': %w", key, err)
	}
	return nil
}

// Close shuts down the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ interfaces.SessionStore = (*Store)(nil)
