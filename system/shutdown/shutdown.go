package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/hass"
	"github.com/thatsimonsguy/room-controller/internal/notifications"
)

// ExitFunc is swapped out in tests so shutdown paths can be exercised without
// killing the test process.
var ExitFunc = os.Exit

// Shutdown disconnects the event bus and exits. Rooms need no teardown of
// their own; whatever the fans and lights were doing, they keep doing until
// the controller comes back and rehydrates.
func Shutdown(bus *hass.Bus) {
	notifications.Send("Room controller", "Stopping")
	if bus != nil {
		bus.Close()
	}
	log.Info().Msg("Event bus disconnected")
	ExitFunc(0)
}

func ShutdownWithError(bus *hass.Bus, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown(bus)
}
