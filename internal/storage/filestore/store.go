// Package filestore implements the session store as one JSON envelope file
// per (provider, account) pair.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/storage/seal"
)

// Store provides file-based session record persistence.
type Store struct {
	basePath string
	logger   *common.Logger
}

// NewStore creates a session file store rooted at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session store path %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("Session file store opened")
	return &Store{basePath: path, logger: logger}, nil
}

// Save writes the record atomically: the envelope lands in a temp file that
// is renamed over the target, so a crash mid-write never leaves a partial
// record visible to the next load.
func (s *Store) Save(_ context.Context, rec *models.SessionRecord, passcode string) error {
	data, err := seal.Seal(rec, passcode)
	if err != nil {
		return fmt.Errorf("failed to seal session record: %w", err)
	}

	target := s.path(rec.Provider, rec.AccountID)
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads the record for an account. Missing file, corrupt envelope,
// schema drift, and failed decryption all read as absent.
func (s *Store) Load(_ context.Context, provider models.Provider, accountID, passcode string) (*models.SessionRecord, error) {
	data, err := os.ReadFile(s.path(provider, accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	rec, ok := seal.Open(data, passcode)
	if !ok {
		s.logger.Warn().
			Str("provider", string(provider)).
			Str("account", accountID).
			Msg("Stored session unreadable, treating as absent")
		return nil, nil
	}
	return rec, nil
}

// Clear removes the record for an account. Idempotent.
func (s *Store) Clear(_ context.Context, provider models.Provider, accountID string) error {
	if err := os.Remove(s.path(provider, accountID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(provider models.Provider, accountID string) string {
	return filepath.Join(s.basePath, sanitize(string(provider)), sanitize(accountID)+".json")
}

func sanitize(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

var _ interfaces.SessionStore = (*Store)(nil)
