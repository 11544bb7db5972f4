package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/config"
	"github.com/thatsimonsguy/room-controller/internal/controllers/roomcontroller"
	"github.com/thatsimonsguy/room-controller/internal/hass"
	"github.com/thatsimonsguy/room-controller/internal/model"
	"github.com/thatsimonsguy/room-controller/internal/notifications"
	"github.com/thatsimonsguy/room-controller/internal/occupancy"
)

var ErrUnknownRoom = errors.New("unknown room")

const snapshotTimeout = 2 * time.Second

type route struct {
	c    *roomcontroller.Controller
	kind roomcontroller.EventKind
}

// System holds every room controller and routes entity transitions to the
// room that owns the entity.
type System struct {
	rooms  map[string]*roomcontroller.Controller
	order  []string
	routes map[string][]route
}

// NewSystem builds and hydrates one controller per configured room. A room
// that fails to initialize is reported and skipped; the rest of the house
// keeps working.
func NewSystem(cfg *config.Config, ha occupancy.HomeAssistant) *System {
	s := &System{
		rooms:  make(map[string]*roomcontroller.Controller),
		routes: make(map[string][]route),
	}
	for _, rc := range cfg.Rooms {
		s.initRoom(rc, ha)
	}
	log.Info().Int("rooms", len(s.rooms)).Msg("System state hydrated")
	return s
}

func (s *System) initRoom(rc config.Room, ha occupancy.HomeAssistant) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("room", rc.Name).Msg("Room initialization failed; continuing without it")
			notifications.Send("Room controller", fmt.Sprintf("Room %q failed to initialize: %v", rc.Name, r))
		}
	}()

	c := roomcontroller.New(rc, ha)
	c.Hydrate()

	s.rooms[rc.Name] = c
	s.order = append(s.order, rc.Name)

	s.route(c, roomcontroller.EventMotion, rc.MotionSensors)
	s.route(c, roomcontroller.EventDoor, rc.DoorSensors)
	s.route(c, roomcontroller.EventPresence, rc.PresenceSensors)
	s.route(c, roomcontroller.EventHumidity, rc.HumiditySensors)
	s.route(c, roomcontroller.EventTemperature, rc.TemperatureSensors)
	s.route(c, roomcontroller.EventFan, rc.Fans)
	if rc.TimerEntity != "" {
		s.route(c, roomcontroller.EventTimer, []string{rc.TimerEntity})
	}
}

func (s *System) route(c *roomcontroller.Controller, kind roomcontroller.EventKind, entities []string) {
	for _, e := range entities {
		s.routes[e] = append(s.routes[e], route{c: c, kind: kind})
	}
}

// Start launches every room goroutine.
func (s *System) Start(ctx context.Context) {
	for _, name := range s.order {
		s.rooms[name].Start(ctx)
	}
	log.Info().Int("rooms", len(s.rooms)).Msg("Room controllers running")
}

// Dispatch routes one statestream transition. Entities no room consumes,
// like the sun entity or lights, are ignored here; their cached state is
// read at decision time instead.
func (s *System) Dispatch(ch hass.StateChange) {
	for _, rt := range s.routes[ch.Entity] {
		rt.c.Deliver(roomcontroller.Event{
			Kind:   rt.kind,
			Entity: ch.Entity,
			Old:    ch.Old,
			New:    ch.New,
			At:     ch.At,
		})
	}
}

// Snapshot asks a room's goroutine for its current state.
func (s *System) Snapshot(name string) (model.RoomSnapshot, error) {
	c, ok := s.rooms[name]
	if !ok {
		return model.RoomSnapshot{}, ErrUnknownRoom
	}
	reply := make(chan model.RoomSnapshot, 1)
	c.Deliver(roomcontroller.Event{Kind: roomcontroller.EventSnapshot, Reply: reply})
	select {
	case snap := <-reply:
		return snap, nil
	case <-time.After(snapshotTimeout):
		return model.RoomSnapshot{}, fmt.Errorf("room %q did not answer a snapshot request", name)
	}
}

// Snapshots returns the state of every room in configuration order.
func (s *System) Snapshots() []model.RoomSnapshot {
	out := make([]model.RoomSnapshot, 0, len(s.order))
	for _, name := range s.order {
		snap, err := s.Snapshot(name)
		if err != nil {
			log.Error().Err(err).Str("room", name).Msg("Skipping room snapshot")
			continue
		}
		out = append(out, snap)
	}
	return out
}

// ManualFan injects a manual fan engage or disengage into a room.
func (s *System) ManualFan(name string, on bool) error {
	c, ok := s.rooms[name]
	if !ok {
		return ErrUnknownRoom
	}
	c.Deliver(roomcontroller.Event{Kind: roomcontroller.EventManualFan, On: on, At: time.Now()})
	return nil
}
