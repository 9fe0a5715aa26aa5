package app

import (
	"github.com/go-redis/redis/v8"
	"roomgraph/internal/common/logging"
	"roomgraph/internal/feeds/dshield"
	"roomgraph/internal/locks"
)

// initializeFeeds creates the DShield feed when AS numbers are configured.
// The feed publishes through the service so events use the configured codec.
func (app *App) initializeFeeds() error {
	if len(app.Config.DShieldASNs) == 0 {
		return nil
	}

	fc := dshield.DefaultConfig()
	fc.ASNs = app.Config.DShieldASNs
	fc.Room = app.Config.DShieldRoom
	fc.Schedule = app.Config.DShieldSchedule
	fc.URL = app.Config.DShieldURL
	fc.UseCymruWhois = app.Config.DShieldUseCymruWhois
	fc.Timeout = app.Config.DShieldTimeout
	fc.LockTTL = app.Config.DShieldLockTTL

	opts := []dshield.Option{dshield.WithRecorder(app.Metrics)}

	locker, err := app.initializeLocker()
	if err != nil {
		return err
	}
	if locker != nil {
		app.Locker = locker
		opts = append(opts, dshield.WithLocker(locker))
	}

	feed, err := dshield.New(fc, app.Service, opts...)
	if err != nil {
		return err
	}
	app.Feed = feed
	return nil
}

func (app *App) initializeLocker() (locks.Manager, error) {
	switch app.Config.DShieldLock {
	case "local":
		return locks.NewLocalManager(), nil
	case "redis":
		manager, err := locks.NewRedsyncManager(app.redisClient(), "")
		if err != nil {
			return nil, err
		}
		app.Logger.Info("DShield polls coordinated through redis",
			logging.String("address", app.Config.RedisAddress))
		return manager, nil
	}
	return nil, nil
}

// redisClient returns the client shared by the rate limiter and the locks
func (app *App) redisClient() *redis.Client {
	if app.redis == nil {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     app.Config.RedisAddress,
			Password: app.Config.RedisPassword,
			DB:       app.Config.RedisDB,
		})
	}
	return app.redis
}
