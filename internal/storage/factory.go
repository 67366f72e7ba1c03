// Package storage selects and constructs the configured session store backend.
package storage

import (
	"fmt"

	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/storage/filestore"
	"github.com/IamMikeHelsel/robin-stocks/internal/storage/sessiondb"
)

// Backend type constants.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// NewSessionStore creates a session store based on the configuration.
// Supported backends: "file" (default), "badger".
func NewSessionStore(logger *common.Logger, config *common.StorageConfig) (interfaces.SessionStore, error) {
	backend := config.Backend
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendFile:
		return filestore.NewStore(logger, config.Path)

	case BackendBadger:
		return sessiondb.NewStore(logger, config.Path)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, badger)", backend)
	}
}
