package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"gohts/internal/api"
	"gohts/internal/config"
	"gohts/internal/container"
	"gohts/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init("gohts-api", cfg.Logging.Level, cfg.Logging.Pretty)
	gin.SetMode(cfg.Server.GinMode)

	c, err := container.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid engine settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.InitDatabase(ctx); err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer c.Close()

	if err := api.NewServer(c.Settings, c.Repo).Run(ctx, ":"+cfg.Server.Port); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}
