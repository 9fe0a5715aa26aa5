package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"roomgraph/internal/auth"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/config"
	"roomgraph/internal/events"
	"roomgraph/internal/feeds/dshield"
	"roomgraph/internal/locks"
	"roomgraph/internal/metrics"
	"roomgraph/internal/ratelimit"
	"roomgraph/internal/roomgraph"
	"roomgraph/internal/storage"
	"roomgraph/internal/transport"
)

// App holds all the application dependencies
type App struct {
	Config    *config.Config
	Transport transport.Transport
	Service   *roomgraph.Service
	Store     storage.Store
	Metrics   *metrics.Metrics
	Auth      *auth.Auth
	Limiter   ratelimit.Limiter
	Feed      *dshield.Feed
	Locker    locks.Manager
	Logger    logging.Logger

	redis *redis.Client
}

// New creates a new application instance with all dependencies. Nothing
// joins a room until Start.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Auth:    auth.New(cfg.JWTSecret),
		Logger:  logging.Component("app"),
	}

	if err := app.initializeTransport(); err != nil {
		return nil, err
	}

	codec, err := events.NewCodec(cfg.EventCodec)
	if err != nil {
		app.Cleanup()
		return nil, err
	}
	app.Service = roomgraph.NewService(app.Transport, codec, serviceConfig(cfg),
		roomgraph.WithObserver(app.Metrics),
	)

	if err := app.initializeStorage(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeRateLimiter(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeFeeds(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

func serviceConfig(cfg *config.Config) roomgraph.Config {
	sc := roomgraph.DefaultConfig()
	sc.StartRetry.MaxAttempts = cfg.SessionStartAttempts
	sc.StartRetry.InitialDelay = cfg.SessionStartBackoff
	sc.Distributor.BatchSize = cfg.BatchSize
	sc.Distributor.SendTimeout = cfg.SendTimeout
	sc.Distributor.StatsEvery = cfg.StatsEvery
	return sc
}

// Start brings up the configured sessions and feeds: persisted API
// sessions first, then the runtime configuration.
func (app *App) Start(ctx context.Context) error {
	if err := app.restoreSessions(ctx); err != nil {
		return err
	}
	if err := app.applyRuntime(ctx); err != nil {
		return err
	}
	if app.Feed != nil {
		if err := app.Feed.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dshield feed: %w", err)
		}
	}
	return nil
}

// Shutdown stops the feeds and every session
func (app *App) Shutdown(ctx context.Context) error {
	if app.Feed != nil {
		if err := app.Feed.Stop(ctx); err != nil {
			app.Logger.Warn("Error stopping dshield feed", logging.Err(err))
		}
	}
	if app.Service != nil {
		if err := app.Service.Close(ctx); err != nil {
			return err
		}
		app.Logger.Info("Sessions stopped")
	}
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Limiter != nil {
		app.Limiter.Close()
	}
	if app.Locker != nil {
		app.Locker.Close()
	}
	if app.redis != nil {
		app.redis.Close()
	}
	if app.Store != nil {
		app.Store.Close()
	}
	if app.Transport != nil {
		app.Transport.Close()
	}
}

func (app *App) initializeRateLimiter() error {
	if !app.Config.RateLimitEnabled() {
		return nil
	}

	rlConfig := ratelimit.Config{
		RequestsPerSecond: app.Config.APIRateLimit,
		BurstSize:         app.Config.APIRateBurst,
		Enabled:           true,
		Backend:           ratelimit.BackendType(app.Config.APIRateLimitBackend),
	}

	var client *redis.Client
	if rlConfig.Backend == ratelimit.BackendRedis {
		client = app.redisClient()
	}

	limiter, err := ratelimit.New(rlConfig, client)
	if err != nil {
		return err
	}
	app.Limiter = limiter
	app.Logger.Info("API rate limiting enabled",
		logging.Int("requests_per_second", rlConfig.RequestsPerSecond),
		logging.Int("burst", rlConfig.BurstSize),
		logging.String("backend", string(rlConfig.Backend)),
	)
	return nil
}
