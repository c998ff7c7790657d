// Package app is the composition root: it builds every component from a
// Config and starts the background loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/pysugar/area-nexus/internal/api"
	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/auth/identity"
	"github.com/pysugar/area-nexus/internal/auth/session"
	"github.com/pysugar/area-nexus/internal/auth/token"
	"github.com/pysugar/area-nexus/internal/cache"
	"github.com/pysugar/area-nexus/internal/config"
	"github.com/pysugar/area-nexus/internal/db"
	"github.com/pysugar/area-nexus/internal/engine"
	"github.com/pysugar/area-nexus/internal/eventlog"
	"github.com/pysugar/area-nexus/internal/gateway"
	"github.com/pysugar/area-nexus/internal/plugins/gmail"
	spotifyplugin "github.com/pysugar/area-nexus/internal/plugins/spotify"
	"github.com/pysugar/area-nexus/internal/plugins/timer"
	"github.com/pysugar/area-nexus/internal/plugins/webhook"
	"github.com/pysugar/area-nexus/internal/polling"
	"github.com/pysugar/area-nexus/internal/providers"
	"github.com/pysugar/area-nexus/internal/providers/google"
	"github.com/pysugar/area-nexus/internal/providers/spotify"
	"github.com/pysugar/area-nexus/internal/vault"
	"gorm.io/gorm"
)

// PluginDeps are the collaborators the compiled-in plugins need. Zero values
// are fine for listing the catalog.
type PluginDeps struct {
	Gateway    *gateway.Gateway
	Links      *token.Store
	Cache      cache.Cache
	HTTPClient *http.Client
	GmailURL   string
	SpotifyURL string
}

// Plugins returns the compiled-in plugins. Pollers come first so they win
// the coordinator's first-match dispatch.
func Plugins(d PluginDeps) (all []area.Plugin, pollers []polling.Poller) {
	var (
		gw       gmail.Requester
		links    gmail.LinkChecker
		baseline *polling.Baseline
	)
	if d.Gateway != nil {
		gw = d.Gateway
	}
	if d.Links != nil {
		links = d.Links
	}
	if d.Cache != nil {
		baseline = polling.NewBaseline(d.Cache)
	}

	var gmailOpts []gmail.Option
	if d.GmailURL != "" {
		gmailOpts = append(gmailOpts, gmail.WithBaseURL(d.GmailURL))
	}
	mail := gmail.New(gw, links, baseline, gmailOpts...)
	music := spotifyplugin.New(gw, links, baseline, d.SpotifyURL)

	all = []area.Plugin{mail, music, timer.New(d.Cache, nil), webhook.New(d.HTTPClient)}
	pollers = []polling.Poller{mail, music}
	return all, pollers
}

// App holds the wired components.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Store       *db.Store
	Cache       cache.Cache
	Tokens      *token.Store
	Registry    *providers.Registry
	Gateway     *gateway.Gateway
	Coordinator *polling.Coordinator
	Recorder    *eventlog.Recorder
	Engine      *engine.Engine
	Sessions    *session.Manager
	Identity    *identity.Service

	closers []func() error
}

// New builds the application. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	v, err := vault.New(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}

	gdb, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &App{Config: cfg, DB: gdb, Store: db.NewStore(gdb)}
	a.closers = append(a.closers, func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if cfg.RedisURL != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisURL, "")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Cache = r
		a.closers = append(a.closers, r.Close)
	} else {
		a.Cache = cache.NewMemory()
		log.Printf("[Cache] AREA_REDIS_URL not set, using in-process cache")
	}

	secret := cfg.SessionSecret
	if secret == "" {
		if secret, err = db.EnsureSetting(gdb, db.SessionSecretKey); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.Sessions, err = session.NewManager(secret, 0); err != nil {
		a.Close()
		return nil, err
	}

	a.Tokens = token.NewStore(gdb, v)
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	a.Registry = providers.NewRegistry()
	for name, p := range map[string]config.Provider{"google": cfg.Google, "spotify": cfg.Spotify} {
		if p.Enabled && !p.Configured() {
			log.Printf("⚠️ [OAuth] %s is enabled without client credentials; its flows will fail until configured", name)
		}
	}
	if cfg.Google.Enabled {
		g := google.New(google.Config{
			ClientID:         cfg.Google.ClientID,
			ClientSecret:     cfg.Google.ClientSecret,
			LinkRedirectURL:  cfg.RedirectURL("/auth/google/link/callback"),
			LoginRedirectURL: cfg.RedirectURL("/auth/google/login/callback"),
			HTTPClient:       client,
		}, a.Tokens)
		a.Registry.RegisterIdentity(g)
		a.Registry.RegisterLinking(g)
		a.closers = append(a.closers, g.Close)
	}
	if cfg.Spotify.Enabled {
		a.Registry.RegisterLinking(spotify.New(spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RedirectURL:  cfg.RedirectURL("/auth/spotify/link/callback"),
			HTTPClient:   client,
		}, a.Tokens))
	}
	a.Gateway = gateway.New(a.Registry, client)

	plugins, pollers := Plugins(PluginDeps{
		Gateway:    a.Gateway,
		Links:      a.Tokens,
		Cache:      a.Cache,
		HTTPClient: client,
		GmailURL:   cfg.Google.APIBaseURL,
		SpotifyURL: cfg.Spotify.APIBaseURL,
	})
	a.Coordinator = polling.NewCoordinator(polling.TickerScheduler{}, cfg.PollInterval)
	for _, p := range pollers {
		a.Coordinator.Register(p)
	}
	a.Recorder = eventlog.NewRecorder(gdb)
	a.Engine = engine.New(engine.NewCatalog(plugins...), a.Store, a.Cache, a.Coordinator, a.Recorder)
	a.Identity = identity.NewService(a.Registry, a.Store, a.Sessions)

	log.Printf("🧩 Providers: %v", a.Registry.ListProviders())
	return a, nil
}

// Start resumes poll sessions and launches the sweep and token refresh
// loops. They stop when ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.Coordinator.SetContext(ctx)
	if _, err := a.Engine.InitPollingForActiveAreas(ctx); err != nil {
		return err
	}
	a.Engine.StartSweepLoop(ctx, a.Config.SweepInterval)
	a.Tokens.StartRefreshLoop(ctx, a.refresher)
	return nil
}

func (a *App) refresher(provider string) (token.Refresher, bool) {
	p, ok := a.Registry.Linking(provider)
	if !ok {
		return nil, false
	}
	return p, true
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewRouter(api.Deps{
		Engine:        a.Engine,
		Identity:      a.Identity,
		Sessions:      a.Sessions,
		Registry:      a.Registry,
		Links:         a.Tokens,
		Events:        a.Recorder,
		AdminPassword: a.Config.AdminPassword,
		CORSOrigins:   a.Config.CORSOrigins,
	})
}

// Close stops poll sessions and releases connections.
func (a *App) Close() error {
	if a.Coordinator != nil {
		log.Printf("🛑 [Poll] Stopping %d poll sessions", a.Coordinator.SessionCount())
		a.Coordinator.StopAll()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
