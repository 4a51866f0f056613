package container

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"gohts/adapters/postgres"
	"gohts/internal/config"
	"gohts/internal/engine"
	"gohts/internal/logging"
	"gohts/ports"
)

// Container holds the application dependencies and manages their lifecycle
type Container struct {
	Config   *config.Config
	Settings engine.Settings
	Strategy *engine.Strategy

	// Infrastructure; nil without DATABASE_URL
	DB   *sqlx.DB
	Repo ports.ForecastRepository

	logger zerolog.Logger
}

// New resolves the engine settings from cfg.
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:   cfg,
		Settings: settings,
		Strategy: strategy,
		logger:   logging.Component("container"),
	}, nil
}

// InitDatabase opens and migrates the configured database. Without a URL the
// container stays in memory-only mode.
func (c *Container) InitDatabase(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		c.logger.Warn().Msg("DATABASE_URL not set; runs are not persisted")
		return nil
	}
	db, err := postgres.Open(ctx, c.Config.Database.Driver, c.Config.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("database connection test failed: %w", err)
	}
	c.DB = db
	c.Repo = postgres.NewForecastRepository(db)
	c.logger.Info().Str("driver", c.Config.Database.Driver).Msg("container initialized with database connection")
	return nil
}

// Pipeline returns a pipeline over the container's settings and repository,
// reporting progress to observer.
func (c *Container) Pipeline(observer ports.ProgressObserver) *engine.Pipeline {
	settings := c.Settings
	settings.Progress = observer
	return engine.NewPipeline(settings, c.Repo)
}

// Close releases the database connection.
func (c *Container) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
