package startup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/api"
	"github.com/thatsimonsguy/room-controller/internal/config"
	"github.com/thatsimonsguy/room-controller/internal/datadog"
	"github.com/thatsimonsguy/room-controller/internal/env"
	"github.com/thatsimonsguy/room-controller/internal/hass"
	"github.com/thatsimonsguy/room-controller/internal/notifications"
	"github.com/thatsimonsguy/room-controller/internal/state"
)

// Run brings the controller online and returns the connected event bus so the
// caller can close it on shutdown.
//
// Order matters here: the bus must connect and sit through the settle window
// before rooms are built, because room hydration reads the retained states
// the broker replays right after subscribe. Live dispatch is attached last so
// no event reaches a room that has not hydrated yet.
func Run(ctx context.Context, cfg *config.Config) *hass.Bus {
	env.Cfg = cfg

	datadog.InitMetrics()
	notifications.Init()

	bus := hass.NewBus(cfg)
	bus.Track(cfg.AllEntities())
	if err := bus.Connect(); err != nil {
		log.Fatal().Err(err).Str("broker", cfg.MQTT.Broker).Msg("Failed to connect to MQTT broker")
	}

	settle := time.Duration(cfg.MQTT.SettleSeconds) * time.Second
	log.Info().Dur("settle", settle).Msg("Waiting for retained states to replay")
	time.Sleep(settle)

	system := state.NewSystem(cfg, bus)
	system.Start(ctx)
	bus.OnChange(system.Dispatch)

	go func() {
		if err := api.NewServer(system).Start(cfg.APIPort); err != nil {
			log.Error().Err(err).Msg("API server exited")
		}
	}()

	notifications.Send("Room controller", fmt.Sprintf("Started %s with %d rooms", env.Version, len(cfg.Rooms)))
	return bus
}

// InstallService writes a systemd unit that runs the controller with the
// current config file, then exits. Enabling and starting the unit is left to
// the operator.
func InstallService(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	unit := fmt.Sprintf(`[Unit]
Description=Room occupancy controller
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s -config-file %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, exe, cfg.ConfigFile)

	path := "/etc/systemd/system/room-controller.service"
	if err := os.WriteFile(path, []byte(unit), 0644); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Installed systemd unit")
	return nil
}
