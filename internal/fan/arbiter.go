package fan

import (
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/device"
	"github.com/thatsimonsguy/room-controller/internal/model"
)

// Arbiter owns the fan state for one room and decides which engage and
// disengage requests win. Manual intent always beats the automatic
// environmental triggers.
type Arbiter struct {
	room string
	fans device.Group
	cmd  device.Commander
	own  model.FanOwnership
}

func New(room string, fans device.Group, cmd device.Commander) *Arbiter {
	return &Arbiter{
		room: room,
		fans: fans,
		cmd:  cmd,
		own:  model.FanOwnership{TriggeredBy: model.TriggerNone},
	}
}

// Ownership returns the current fan ownership record.
func (a *Arbiter) Ownership() model.FanOwnership { return a.own }

// Engage requests the fans on. Automatic sources are refused while the fans
// are already running, while manual intent owns them, or while the room is
// unoccupied. Manual engage always takes ownership but only commands the
// fans if they were off.
func (a *Arbiter) Engage(source model.TriggerSource, occupied bool) {
	if source == model.TriggerManual {
		wasActive := a.own.Active
		a.own = model.FanOwnership{Active: true, TriggeredBy: model.TriggerManual}
		if wasActive {
			log.Debug().Str("room", a.room).Msg("Manual engage with fans already running; taking ownership only")
			return
		}
		log.Info().Str("room", a.room).Msg("Fan on (manual)")
		a.fans.AllOn(a.cmd)
		return
	}

	if a.own.TriggeredBy == model.TriggerManual {
		log.Debug().Str("room", a.room).Str("source", string(source)).Msg("Ignoring automatic engage; fans are manually owned")
		return
	}
	if a.own.Active {
		log.Debug().Str("room", a.room).Str("source", string(source)).Msg("Ignoring engage; fans already active")
		return
	}
	if !occupied {
		log.Info().Str("room", a.room).Str("source", string(source)).Msg("Ignoring spike in unoccupied room")
		return
	}

	a.own = model.FanOwnership{Active: true, TriggeredBy: source}
	log.Info().Str("room", a.room).Str("source", string(source)).Msg("Fan on")
	a.fans.AllOn(a.cmd)
}

// Disengage requests the fans off. Automatic sources may only release a
// trigger they own; manual intent turns the fans off no matter who engaged
// them.
func (a *Arbiter) Disengage(source model.TriggerSource) {
	if source == model.TriggerManual {
		if !a.own.Active {
			log.Debug().Str("room", a.room).Msg("Manual disengage with fans already off")
			return
		}
		a.clear()
		log.Info().Str("room", a.room).Msg("Fan off (manual)")
		a.fans.AllOff(a.cmd)
		return
	}

	if a.own.TriggeredBy == model.TriggerManual {
		log.Debug().Str("room", a.room).Str("source", string(source)).Msg("Ignoring automatic disengage; fans are manually owned")
		return
	}
	if !a.own.Active || a.own.TriggeredBy != source {
		log.Debug().Str("room", a.room).Str("source", string(source)).Msg("Ignoring disengage from non-owning source")
		return
	}

	a.clear()
	log.Info().Str("room", a.room).Str("source", string(source)).Msg("Fan off; signal normalized")
	a.fans.AllOff(a.cmd)
}

// RoomEmptied applies the fan policy for a room going empty: manually
// activated fans turn off with the room, automatic ones keep running only
// while their signal is still elevated. stillElevated reports whether the
// given signal remains above its keep-on band.
func (a *Arbiter) RoomEmptied(stillElevated func(model.TriggerSource) bool) {
	if !a.own.Active {
		return
	}
	switch a.own.TriggeredBy {
	case model.TriggerManual:
		a.clear()
		log.Info().Str("room", a.room).Msg("Room empty; turning off manually activated fan")
		a.fans.AllOff(a.cmd)
	case model.TriggerHumidity, model.TriggerTemperature:
		if stillElevated(a.own.TriggeredBy) {
			log.Info().Str("room", a.room).Str("source", string(a.own.TriggeredBy)).Msg("Room empty; fan stays on until signal clears")
			return
		}
		source := a.own.TriggeredBy
		a.clear()
		log.Info().Str("room", a.room).Str("source", string(source)).Msg("Room empty; turning fan off")
		a.fans.AllOff(a.cmd)
	default:
		a.clear()
		log.Warn().Str("room", a.room).Msg("Fan active without a trigger source; turning off")
		a.fans.AllOff(a.cmd)
	}
}

// ObserveRawOn records a fan entity turning on through something other than
// our own commands, e.g. a wall switch.
func (a *Arbiter) ObserveRawOn() {
	if a.own.Active {
		return
	}
	a.own = model.FanOwnership{Active: true, TriggeredBy: model.TriggerManual}
	log.Info().Str("room", a.room).Msg("Fan turned on externally; treating as manual")
}

// ObserveRawOff records a fan entity turning off outside our own commands.
// Ownership clears once no fan in the group is left running.
func (a *Arbiter) ObserveRawOff() {
	if !a.own.Active {
		return
	}
	if a.fans.AnyOn(a.cmd) {
		log.Debug().Str("room", a.room).Msg("Fan turned off externally but others in the group still run")
		return
	}
	source := a.own.TriggeredBy
	a.clear()
	log.Info().Str("room", a.room).Str("source", string(source)).Msg("Fan turned off externally; clearing trigger")
}

// InitFromRaw seeds ownership from the fan state observed at startup. A fan
// already running has an unknown cause, so it counts as manual; if the room
// shows no occupancy it is turned off immediately.
func (a *Arbiter) InitFromRaw(on, occupied bool) {
	if !on {
		a.clear()
		return
	}
	a.own = model.FanOwnership{Active: true, TriggeredBy: model.TriggerManual}
	log.Info().Str("room", a.room).Msg("Fan already on at startup; assuming manual activation")
	if !occupied {
		a.clear()
		log.Info().Str("room", a.room).Msg("Room unoccupied at startup; turning fan off")
		a.fans.AllOff(a.cmd)
	}
}

func (a *Arbiter) clear() {
	a.own = model.FanOwnership{Active: false, TriggeredBy: model.TriggerNone}
}
