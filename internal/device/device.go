package device

import (
	"github.com/rs/zerolog/log"
)

// StateReader reports the last known state of an entity.
type StateReader interface {
	State(entity string) string
}

// Commander issues on/off commands to entities.
type Commander interface {
	StateReader
	TurnOn(entity string) error
	TurnOff(entity string) error
}

// Group is a set of like entities in one room that are read or commanded
// together, e.g. every light in the kitchen.
type Group struct {
	Room     string
	Kind     string
	Entities []string
}

func (g Group) Empty() bool { return len(g.Entities) == 0 }

// AnyOn reports whether at least one entity in the group is "on".
func (g Group) AnyOn(r StateReader) bool {
	for _, e := range g.Entities {
		if r.State(e) == "on" {
			return true
		}
	}
	return false
}

// AllOn turns on every entity not already on. Entities with no known state
// are skipped rather than commanded blind.
func (g Group) AllOn(c Commander) { g.command(c, "on") }

// AllOff turns off every entity not already off.
func (g Group) AllOff(c Commander) { g.command(c, "off") }

func (g Group) command(c Commander, target string) {
	for _, e := range g.Entities {
		switch state := c.State(e); state {
		case target:
			log.Debug().Str("room", g.Room).Str("entity", e).Str("target", target).Msg("Entity already at target state")
		case "", "unavailable", "unknown":
			log.Warn().Str("room", g.Room).Str("entity", e).Str("state", state).Str("target", target).Msg("Skipping command to unavailable entity")
		default:
			var err error
			if target == "on" {
				err = c.TurnOn(e)
			} else {
				err = c.TurnOff(e)
			}
			if err != nil {
				log.Error().Err(err).Str("room", g.Room).Str("entity", e).Str("target", target).Msg("Command failed")
			}
		}
	}
}
