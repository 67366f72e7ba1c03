// Package app wires configuration, logging, storage, the credential vault,
// the session manager, and the transport dispatcher into one shared core.
package app

import (
	"fmt"
	"os"

	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/providers/gemini"
	"github.com/IamMikeHelsel/robin-stocks/internal/providers/robinhood"
	"github.com/IamMikeHelsel/robin-stocks/internal/providers/tdameritrade"
	"github.com/IamMikeHelsel/robin-stocks/internal/session"
	"github.com/IamMikeHelsel/robin-stocks/internal/storage"
	"github.com/IamMikeHelsel/robin-stocks/internal/transport"
	"github.com/IamMikeHelsel/robin-stocks/internal/vault"
)

// App holds the initialized session core shared by every entry point.
type App struct {
	Config     *common.Config
	Logger     *common.Logger
	Store      interfaces.SessionStore
	Vault      *vault.Vault
	Sessions   *session.Manager
	Dispatcher *transport.Dispatcher
}

// NewApp initializes storage, the provider authenticators, the session
// manager, and the dispatcher. configPath may be empty, in which case
// ROBIN_CONFIG and the default path are consulted.
func NewApp(configPath string) (*App, error) {
	if configPath == "" {
		configPath = os.Getenv("ROBIN_CONFIG")
	}
	if configPath == "" {
		configPath = "config/robin.toml"
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	store, err := storage.NewSessionStore(logger, &config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	env := EnvironmentFromConfig(config)

	auths := []interfaces.Authenticator{
		robinhood.NewClient(
			robinhood.WithBaseURL(config.Providers.Robinhood.BaseURL),
			robinhood.WithRateLimit(config.Providers.Robinhood.RateLimit),
			robinhood.WithTimeout(config.Providers.Robinhood.GetTimeout()),
			robinhood.WithLogger(logger),
		),
		gemini.NewClient(
			gemini.WithBaseURL(config.Providers.Gemini.BaseURL),
			gemini.WithRateLimit(config.Providers.Gemini.RateLimit),
			gemini.WithTimeout(config.Providers.Gemini.GetTimeout()),
			gemini.WithLogger(logger),
		),
		tdameritrade.NewClient(
			tdameritrade.WithBaseURL(config.Providers.TDA.BaseURL),
			tdameritrade.WithRateLimit(config.Providers.TDA.RateLimit),
			tdameritrade.WithTimeout(config.Providers.TDA.GetTimeout()),
			tdameritrade.WithLogger(logger),
		),
	}

	v := vault.New()
	sessions := session.NewManager(store, v, auths,
		session.WithLogger(logger),
		session.WithClockSkew(config.Session.GetClockSkewMargin()),
		session.WithEnvironment(env),
	)

	dispatcher := transport.NewDispatcher(sessions,
		transport.WithPolicy(transport.PolicyFromConfig(&config.Transport)),
		transport.WithLogger(logger),
	)

	return &App{
		Config:     config,
		Logger:     logger,
		Store:      store,
		Vault:      v,
		Sessions:   sessions,
		Dispatcher: dispatcher,
	}, nil
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
