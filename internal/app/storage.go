package app

import (
	"fmt"

	"roomgraph/internal/common/logging"
	"roomgraph/internal/config"
	"roomgraph/internal/storage"
	"roomgraph/internal/storage/postgres"
	"roomgraph/internal/storage/sqlite"
)

// storageConfig builds the session store configuration, or nil when
// persistence is disabled
func storageConfig(cfg *config.Config) (storage.StorageConfig, error) {
	switch cfg.DatabaseType {
	case "", "none":
		return nil, nil
	case "sqlite":
		return &sqlite.Config{DatabasePath: cfg.DatabasePath}, nil
	case "postgres", "postgresql":
		if cfg.DatabaseURL != "" {
			return postgres.NewConfigFromURL(cfg.DatabaseURL)
		}
		return &postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			Username: cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		}, nil
	}
	return nil, fmt.Errorf("unknown database type: %s", cfg.DatabaseType)
}

func (app *App) initializeStorage() error {
	registry := storage.NewRegistry()
	registry.Register(sqlite.Factory{})
	registry.Register(postgres.Factory{})

	sc, err := storageConfig(app.Config)
	if err != nil {
		return err
	}
	if sc == nil {
		app.Logger.Info("Session persistence disabled")
		return nil
	}

	store, err := registry.Create(sc)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Logger.Info("Session storage ready",
		logging.String("type", sc.GetType()),
		logging.String("database", redactedTarget(sc)),
	)
	app.Store = store
	return nil
}

func redactedTarget(sc storage.StorageConfig) string {
	if s, ok := sc.(fmt.Stringer); ok {
		return s.String()
	}
	return sc.GetConnectionString()
}
