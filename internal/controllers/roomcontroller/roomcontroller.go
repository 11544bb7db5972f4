package roomcontroller

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/config"
	"github.com/thatsimonsguy/room-controller/internal/datadog"
	"github.com/thatsimonsguy/room-controller/internal/device"
	"github.com/thatsimonsguy/room-controller/internal/fan"
	"github.com/thatsimonsguy/room-controller/internal/model"
	"github.com/thatsimonsguy/room-controller/internal/occupancy"
	"github.com/thatsimonsguy/room-controller/internal/tracker"
)

const (
	eventBuffer = 64

	defaultHumidityBaseline    = 50.0
	defaultTemperatureBaseline = 20.0
)

type EventKind string

const (
	EventMotion      EventKind = "motion"
	EventDoor        EventKind = "door"
	EventPresence    EventKind = "presence"
	EventHumidity    EventKind = "humidity"
	EventTemperature EventKind = "temperature"
	EventFan         EventKind = "fan"
	EventTimer       EventKind = "timer"
	EventManualFan   EventKind = "manual_fan"
	EventSnapshot    EventKind = "snapshot"
)

// Event is one unit of work for a room's goroutine. Sensor transitions come
// off the MQTT bus; manual fan requests and snapshot reads come from the
// API.
type Event struct {
	Kind   EventKind
	Entity string
	Old    string
	New    string
	At     time.Time

	// Manual fan target, EventManualFan only.
	On bool

	// Reply receives the snapshot for EventSnapshot.
	Reply chan model.RoomSnapshot
}

// Controller runs one room. All room state (occupancy machine, trackers,
// fan arbiter) is owned by the controller's single goroutine; the outside
// world only talks to it through Deliver.
type Controller struct {
	cfg config.Room
	ha  occupancy.HomeAssistant

	lights device.Group
	fans   device.Group

	machine     *occupancy.Machine
	arbiter     *fan.Arbiter
	humidity    *tracker.Tracker
	temperature *tracker.Tracker

	events chan Event
}

func New(cfg config.Room, ha occupancy.HomeAssistant) *Controller {
	c := &Controller{
		cfg:         cfg,
		ha:          ha,
		lights:      device.Group{Room: cfg.Name, Kind: "lights", Entities: cfg.Lights},
		fans:        device.Group{Room: cfg.Name, Kind: "fans", Entities: cfg.Fans},
		humidity:    tracker.NewHumidity(cfg.Name, cfg.HumidityThreshold),
		temperature: tracker.NewTemperature(cfg.Name, cfg.TemperatureThreshold),
		events:      make(chan Event, eventBuffer),
	}
	c.arbiter = fan.New(cfg.Name, c.fans, ha)
	c.machine = occupancy.New(occupancy.Params{
		Room:          cfg.Name,
		Behavior:      cfg.Behavior,
		HA:            ha,
		Lights:        c.lights,
		Motion:        device.Group{Room: cfg.Name, Kind: "motion", Entities: cfg.MotionSensors},
		Doors:         device.Group{Room: cfg.Name, Kind: "doors", Entities: cfg.DoorSensors},
		Presence:      device.Group{Room: cfg.Name, Kind: "presence", Entities: cfg.PresenceSensors},
		TimerEntity:   cfg.TimerEntity,
		LightOverride: cfg.LightOverride,
		OnEmpty:       func() { c.arbiter.RoomEmptied(c.stillElevated) },
	})
	return c
}

func (c *Controller) Name() string { return c.cfg.Name }

// Hydrate seeds runtime state from the retained entity states cached during
// the settle window. Must run before Start.
func (c *Controller) Hydrate() {
	now := time.Now()
	c.seedTracker(c.humidity, c.cfg.HumiditySensors, defaultHumidityBaseline, now)
	c.seedTracker(c.temperature, c.cfg.TemperatureSensors, defaultTemperatureBaseline, now)

	rawOccupied := c.machine.AnySignalActive()
	c.machine.SetOccupied(rawOccupied)
	c.arbiter.InitFromRaw(c.fans.AnyOn(c.ha), rawOccupied)

	if c.lights.Empty() && c.fans.Empty() {
		log.Warn().Str("room", c.cfg.Name).Msg("Room has neither lights nor fans; tracking occupancy only")
	}
	if len(c.cfg.MotionSensors) > 0 && c.cfg.TimerEntity == "" {
		log.Warn().Str("room", c.cfg.Name).Msg("Motion sensors without a timer entity; room clears as soon as motion stops")
	}
	log.Info().Str("room", c.cfg.Name).Bool("occupied", rawOccupied).
		Bool("fan_active", c.arbiter.Ownership().Active).Msg("Room hydrated")
}

// Start launches the room goroutine. It exits when ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go c.loop(ctx)
}

// Deliver hands an event to the room's goroutine. Events are dropped with a
// warning rather than blocking the shared MQTT dispatch path.
func (c *Controller) Deliver(ev Event) {
	select {
	case c.events <- ev:
	default:
		datadog.Count("room.events.dropped", 1, "room:"+c.cfg.Name)
		log.Warn().Str("room", c.cfg.Name).Str("kind", string(ev.Kind)).Msg("Event buffer full; dropping event")
	}
}

func (c *Controller) loop(ctx context.Context) {
	log.Debug().Str("room", c.cfg.Name).Msg("Room controller started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("room", c.cfg.Name).Msg("Room controller stopped")
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev Event) {
	if ev.Kind == EventSnapshot {
		ev.Reply <- c.snapshot()
		return
	}

	datadog.Count("room.events", 1, "room:"+c.cfg.Name, "kind:"+string(ev.Kind))

	switch ev.Kind {
	case EventMotion:
		switch ev.New {
		case "on":
			c.machine.HandleActive("motion")
		case "off":
			c.machine.HandleMotionCleared()
		default:
			log.Debug().Str("room", c.cfg.Name).Str("entity", ev.Entity).Str("state", ev.New).Msg("Ignoring non-binary motion state")
		}
	case EventPresence:
		switch ev.New {
		case "on":
			c.machine.HandleActive("presence")
		case "off":
			c.machine.HandlePresenceCleared()
		default:
			log.Debug().Str("room", c.cfg.Name).Str("entity", ev.Entity).Str("state", ev.New).Msg("Ignoring non-binary presence state")
		}
	case EventDoor:
		switch ev.New {
		case "on":
			c.machine.HandleActive("door")
		case "off":
			c.machine.HandleDoorClosed()
		default:
			log.Debug().Str("room", c.cfg.Name).Str("entity", ev.Entity).Str("state", ev.New).Msg("Ignoring non-binary door state")
		}
	case EventHumidity:
		c.handleReading(c.humidity, model.TriggerHumidity, ev)
	case EventTemperature:
		c.handleReading(c.temperature, model.TriggerTemperature, ev)
	case EventFan:
		switch ev.New {
		case "on":
			c.arbiter.ObserveRawOn()
		case "off":
			c.arbiter.ObserveRawOff()
		}
	case EventTimer:
		if ev.New == "idle" {
			c.machine.HandleTimerIdle()
		}
	case EventManualFan:
		if ev.On {
			c.arbiter.Engage(model.TriggerManual, c.machine.Occupied())
		} else {
			c.arbiter.Disengage(model.TriggerManual)
		}
	default:
		log.Warn().Str("room", c.cfg.Name).Str("kind", string(ev.Kind)).Msg("Unroutable event kind")
	}

	c.emitMetrics()
}

// handleReading parses a continuous sensor payload and feeds the tracker.
// Unparseable payloads are dropped without touching the baseline.
func (c *Controller) handleReading(tr *tracker.Tracker, source model.TriggerSource, ev Event) {
	value, err := strconv.ParseFloat(ev.New, 64)
	if err != nil {
		datadog.Count("room.readings.malformed", 1, "room:"+c.cfg.Name, "signal:"+string(source))
		log.Warn().Str("room", c.cfg.Name).Str("entity", ev.Entity).Str("payload", ev.New).Msg("Dropping malformed sensor reading")
		return
	}

	decision := tr.Observe(value, ev.At, c.owned(source))
	switch decision {
	case tracker.Spike:
		datadog.Count("room.spikes", 1, "room:"+c.cfg.Name, "signal:"+string(source))
		c.arbiter.Engage(source, c.machine.Occupied())
	case tracker.Decaying:
		c.arbiter.Disengage(source)
	}

	datadog.Gauge("room."+string(source)+".baseline", tr.Baseline(), "room:"+c.cfg.Name)
}

// owned reports whether the fans currently run on the given source's
// account.
func (c *Controller) owned(source model.TriggerSource) bool {
	own := c.arbiter.Ownership()
	return own.Active && own.TriggeredBy == source
}

// stillElevated backs the arbiter's keep-running-when-empty check.
func (c *Controller) stillElevated(source model.TriggerSource) bool {
	switch source {
	case model.TriggerHumidity:
		return c.humidity.Elevated()
	case model.TriggerTemperature:
		return c.temperature.Elevated()
	default:
		return false
	}
}

func (c *Controller) snapshot() model.RoomSnapshot {
	snap := model.RoomSnapshot{
		Name:     c.cfg.Name,
		Behavior: c.cfg.Behavior,
		Occupied: c.machine.Occupied(),
		Fan:      c.arbiter.Ownership(),
	}
	if len(c.cfg.HumiditySensors) > 0 {
		snap.Humidity = c.humidity.Snapshot()
	}
	if len(c.cfg.TemperatureSensors) > 0 {
		snap.Temperature = c.temperature.Snapshot()
	}
	return snap
}

// seedTracker seeds a baseline from the first readable retained sensor
// state. Rooms without sensors of this kind leave the tracker unseeded.
func (c *Controller) seedTracker(tr *tracker.Tracker, sensors []string, fallback float64, now time.Time) {
	if len(sensors) == 0 {
		return
	}
	for _, entity := range sensors {
		value, err := strconv.ParseFloat(c.ha.State(entity), 64)
		if err != nil {
			continue
		}
		tr.Seed(value, now)
		log.Debug().Str("room", c.cfg.Name).Str("entity", entity).
			Float64("value", value).Msg("Seeded baseline from retained state")
		return
	}
	tr.Seed(fallback, now)
	log.Warn().Str("room", c.cfg.Name).Str("signal", string(tr.Kind())).
		Float64("fallback", fallback).Msg("No readable sensor state; seeding default baseline")
}

func (c *Controller) emitMetrics() {
	occupied := 0.0
	if c.machine.Occupied() {
		occupied = 1
	}
	datadog.Gauge("room.occupied", occupied, "room:"+c.cfg.Name)

	own := c.arbiter.Ownership()
	active := 0.0
	if own.Active {
		active = 1
	}
	datadog.Gauge("room.fan_active", active, "room:"+c.cfg.Name, "trigger:"+string(own.TriggeredBy))
}
