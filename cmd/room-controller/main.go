package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/config"
	"github.com/thatsimonsguy/room-controller/internal/env"
	"github.com/thatsimonsguy/room-controller/internal/logging"
	"github.com/thatsimonsguy/room-controller/system/shutdown"
	"github.com/thatsimonsguy/room-controller/system/startup"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", env.Version).
		Str("config_file", cfg.ConfigFile).
		Int("rooms", len(cfg.Rooms)).
		Msg("Starting room controller")

	if cfg.InstallService {
		if err := startup.InstallService(&cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to install service")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := startup.Run(ctx, &cfg)

	<-ctx.Done()
	log.Info().Msg("Signal received, shutting down")
	shutdown.Shutdown(bus)
}
