package occupancy

import (
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/device"
	"github.com/thatsimonsguy/room-controller/internal/model"
)

// HomeAssistant is the slice of the MQTT bus the occupancy machine needs.
type HomeAssistant interface {
	State(entity string) string
	TurnOn(entity string) error
	TurnOff(entity string) error
	StartTimer(entity string) error
	CancelTimer(entity string) error
	IsNight() bool
}

// Params configures one room's occupancy machine.
type Params struct {
	Room     string
	Behavior model.Behavior
	HA       HomeAssistant

	Lights   device.Group
	Motion   device.Group
	Doors    device.Group
	Presence device.Group

	TimerEntity   string
	LightOverride string

	// OnEmpty runs as part of the empty-room sequence, after lights are
	// handled and before the occupied flag drops.
	OnEmpty func()
}

// Machine tracks whether one room is occupied and drives lights and the
// fallback timer. Presence and door sensors clear the room immediately;
// motion alone has to wait out the external timer entity.
type Machine struct {
	room     string
	behavior model.Behavior
	ha       HomeAssistant

	lights   device.Group
	motion   device.Group
	doors    device.Group
	presence device.Group

	timerEntity   string
	lightOverride string

	occupied bool

	// cancelPending marks that the next timer idle event is the echo of our
	// own cancel command rather than a genuine expiry.
	cancelPending bool

	onEmpty func()
}

func New(p Params) *Machine {
	return &Machine{
		room:          p.Room,
		behavior:      p.Behavior,
		ha:            p.HA,
		lights:        p.Lights,
		motion:        p.Motion,
		doors:         p.Doors,
		presence:      p.Presence,
		timerEntity:   p.TimerEntity,
		lightOverride: p.LightOverride,
		onEmpty:       p.OnEmpty,
	}
}

// Occupied returns the tracked occupancy flag.
func (m *Machine) Occupied() bool { return m.occupied }

// SetOccupied seeds the tracked flag during startup hydration.
func (m *Machine) SetOccupied(v bool) { m.occupied = v }

// AnySignalActive reads the occupancy aggregate straight from current
// sensor state, never from the tracked flag.
func (m *Machine) AnySignalActive() bool {
	return m.presence.AnyOn(m.ha) || m.motion.AnyOn(m.ha) || m.doors.AnyOn(m.ha)
}

// HandleActive marks the room occupied in response to a motion, presence or
// door-open signal. Every active signal re-applies the light policy, so
// lights come back even if someone switched them off mid-occupancy.
func (m *Machine) HandleActive(signal string) {
	m.cancelTimer()
	if !m.occupied {
		log.Info().Str("room", m.room).Str("signal", signal).Msg("Room occupied")
	}
	m.occupied = true
	m.lightsOn()
}

// HandleMotionCleared starts the fallback timer when motion stops and no
// other signal holds the room.
func (m *Machine) HandleMotionCleared() {
	if m.AnySignalActive() {
		log.Debug().Str("room", m.room).Msg("Motion cleared but room still shows occupancy")
		return
	}
	m.startTimer()
}

// HandlePresenceCleared clears the room as soon as the last presence signal
// drops. Presence is trusted without a grace period.
func (m *Machine) HandlePresenceCleared() {
	if m.AnySignalActive() {
		return
	}
	m.clearRoom()
}

// HandleDoorClosed re-evaluates rooms that pair door sensors with presence
// detection. Without presence coverage a closed door proves nothing about
// the room being empty.
func (m *Machine) HandleDoorClosed() {
	if m.presence.Empty() {
		log.Debug().Str("room", m.room).Msg("No presence sensors; door close needs motion or timer to clear")
		return
	}
	if m.AnySignalActive() {
		return
	}
	m.clearRoom()
}

// HandleTimerIdle reacts to the timer entity going idle. Our own cancels
// echo back as idle too and are swallowed; a genuine expiry either restarts
// the countdown, when a signal re-activated during the window, or clears
// the room.
func (m *Machine) HandleTimerIdle() {
	if m.cancelPending {
		m.cancelPending = false
		log.Debug().Str("room", m.room).Msg("Timer idle from our own cancel")
		return
	}
	if m.AnySignalActive() {
		log.Info().Str("room", m.room).Msg("Timer expired with activity present; restarting")
		if err := m.ha.StartTimer(m.timerEntity); err != nil {
			log.Error().Err(err).Str("room", m.room).Str("entity", m.timerEntity).Msg("Failed to restart timer")
		}
		return
	}
	m.clearRoom()
}

// startTimer begins the fallback countdown. Refused while any occupancy
// signal is active; a countdown must never run against a live signal.
func (m *Machine) startTimer() {
	if m.timerEntity == "" {
		log.Warn().Str("room", m.room).Msg("No timer configured; clearing room immediately")
		m.clearRoom()
		return
	}
	if m.AnySignalActive() {
		log.Warn().Str("room", m.room).Msg("Refusing to start timer while occupancy signals are active")
		return
	}
	if err := m.ha.StartTimer(m.timerEntity); err != nil {
		log.Error().Err(err).Str("room", m.room).Str("entity", m.timerEntity).Msg("Failed to start timer")
		return
	}
	log.Info().Str("room", m.room).Msg("Occupancy timer started")
}

// cancelTimer cancels the countdown if one is running and flags the
// expected idle echo.
func (m *Machine) cancelTimer() {
	if m.timerEntity == "" || m.ha.State(m.timerEntity) != "active" {
		return
	}
	m.cancelPending = true
	if err := m.ha.CancelTimer(m.timerEntity); err != nil {
		m.cancelPending = false
		log.Error().Err(err).Str("room", m.room).Str("entity", m.timerEntity).Msg("Failed to cancel timer")
		return
	}
	log.Debug().Str("room", m.room).Msg("Occupancy timer cancelled")
}

// clearRoom runs the empty-room sequence. Idempotent; aborts if any signal
// re-activated since the caller checked.
func (m *Machine) clearRoom() {
	if m.AnySignalActive() {
		log.Debug().Str("room", m.room).Msg("Clear aborted; a signal re-activated")
		return
	}
	// Lights go off for every behavior, bathrooms included; only the on
	// direction is policy-gated.
	if !m.lights.Empty() {
		if m.overrideActive() {
			log.Debug().Str("room", m.room).Msg("Light override on; leaving lights alone")
		} else {
			m.lights.AllOff(m.ha)
		}
	}
	if m.onEmpty != nil {
		m.onEmpty()
	}
	if m.occupied {
		log.Info().Str("room", m.room).Msg("Room empty")
	}
	m.occupied = false
}

func (m *Machine) lightsOn() {
	if m.behavior == model.BehaviorBathroom || m.lights.Empty() {
		return
	}
	if m.overrideActive() {
		log.Debug().Str("room", m.room).Msg("Light override on; skipping light automation")
		return
	}
	if m.behavior == model.BehaviorNightOnly && !m.ha.IsNight() {
		log.Debug().Str("room", m.room).Msg("Daylight; night-only room leaves lights alone")
		return
	}
	m.lights.AllOn(m.ha)
}

func (m *Machine) overrideActive() bool {
	return m.lightOverride != "" && m.ha.State(m.lightOverride) == "on"
}
