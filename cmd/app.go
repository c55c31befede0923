package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/oauth"
	"github.com/desertthunder/playsync/internal/repositories"
	"github.com/desertthunder/playsync/internal/server"
	"github.com/desertthunder/playsync/internal/services"
	"github.com/desertthunder/playsync/internal/shared"
	"github.com/desertthunder/playsync/internal/tasks"
	"github.com/desertthunder/playsync/internal/vault"
)

// App holds the wired service graph shared by the serve command and the
// one-shot commands.
type App struct {
	Config       *shared.Config
	DB           *sql.DB
	Integrations *repositories.IntegrationRepository
	Plays        *repositories.PlayRepository
	Provider     *services.SpotifyClient
	Tokens       *oauth.TokenManager
	States       oauth.StateStore
	Coordinator  *oauth.Coordinator
	Engine       *tasks.Engine

	closers []func() error
}

// NewApp validates cfg and builds every component from it.
func NewApp(ctx context.Context, cfg *shared.Config, logger *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider.Name != services.SpotifyProvider {
		return nil, fmt.Errorf("%w: unsupported provider %q", shared.ErrInvalidConfig, cfg.Provider.Name)
	}

	app := &App{Config: cfg}

	db, err := shared.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	app.DB = db
	app.closers = append(app.closers, db.Close)

	v, err := vault.New(cfg.Security.EncryptionKey)
	if err != nil {
		app.Close()
		return nil, err
	}

	sp := cfg.Credentials.Spotify
	hc := services.NewHTTPClient(services.ClientOpts{
		Timeout: cfg.Provider.Timeout(),
		Policy: services.RetryPolicy{
			MaxRetries: cfg.Provider.MaxRetries,
			Backoff:    services.ExponentialBackoff,
			MaxWait:    cfg.Provider.MaxWait(),
		},
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		Logger:            shared.WithLogger(logger, "component", "provider"),
	})

	app.Integrations = repositories.NewIntegrationRepository(db)
	app.Plays = repositories.NewPlayRepository(db)
	app.Provider = services.NewSpotifyClient(hc, sp.APIURL, logger)
	app.Tokens = oauth.NewTokenManager(oauth.TokenConfig{
		ClientID:     sp.ClientID,
		ClientSecret: sp.ClientSecret,
		RedirectURI:  sp.RedirectURI,
		Scopes:       sp.Scopes,
		AuthURL:      sp.AuthURL,
		TokenURL:     sp.TokenURL,
	}, hc)

	if cfg.State.RedisURL != "" {
		store, err := oauth.OpenRedisStateStore(ctx, cfg.State.RedisURL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.States = store
		app.closers = append(app.closers, store.Close)
	} else {
		app.States = oauth.NewMemoryStateStore()
	}

	app.Coordinator = oauth.NewCoordinator(oauth.CoordinatorOpts{
		Provider:     services.SpotifyProvider,
		Tokens:       app.Tokens,
		States:       app.States,
		Vault:        v,
		Integrations: app.Integrations,
		TTL:          cfg.State.TTL(),
		Logger:       logger,
	})
	app.Engine = tasks.NewEngine(tasks.EngineOpts{
		Provider:     app.Provider,
		Tokens:       app.Tokens,
		Vault:        v,
		Integrations: app.Integrations,
		Plays:        app.Plays,
		PageSize:     cfg.Sync.PageSize,
		SyncTimeout:  cfg.Sync.Timeout(),
		Logger:       logger,
	})
	return app, nil
}

// API builds the HTTP handler for the app. connector overrides the
// coordinator when non-nil.
func (a *App) API(connector server.Connector, logger *log.Logger) (*server.BasicRouter, error) {
	if connector == nil {
		connector = a.Coordinator
	}
	return server.NewAPI(server.APIOpts{
		Connector:   connector,
		Syncer:      a.Engine,
		Resolver:    server.NewStaticResolver(a.Config.Auth.Tokens),
		FrontendURL: a.Config.Server.FrontendURL,
		Logger:      logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
