package hass

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/config"
	"github.com/thatsimonsguy/room-controller/internal/notifications"
)

// StateChange is one observed entity state transition.
type StateChange struct {
	Entity string
	Old    string
	New    string
	At     time.Time
}

// Bus maintains the MQTT session with the Home Assistant statestream and a
// cache of the last known state of every tracked entity. Retained messages
// replayed on subscribe hydrate the cache; the change handler only sees
// transitions where the payload actually differs from the cached value, so
// reconnect replays do not re-trigger room logic.
type Bus struct {
	client    mqtt.Client
	cfg       config.MQTT
	sunEntity string

	mu      sync.RWMutex
	states  map[string]string
	tracked []string
	handler func(StateChange)
	wasLost bool
}

func NewBus(cfg *config.Config) *Bus {
	b := &Bus{
		cfg:       cfg.MQTT,
		sunEntity: cfg.SunEntity,
		states:    make(map[string]string),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = mqtt.NewClient(opts)
	return b
}

// Track registers the entities whose state topics the bus subscribes to.
// Must be called before Connect.
func (b *Bus) Track(entities []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entities {
		if StateTopic(b.cfg.StatestreamPrefix, e) == "" {
			log.Warn().Str("entity", e).Msg("Ignoring malformed entity id")
			continue
		}
		b.tracked = append(b.tracked, e)
	}
}

func (b *Bus) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out connecting to broker %s", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker %s: %w", b.cfg.Broker, err)
	}
	return nil
}

// OnChange installs the transition handler. Statestream messages received
// before this point still populate the cache, which is what lets startup
// hydrate from retained state without triggering room logic.
func (b *Bus) OnChange(fn func(StateChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// State returns the cached state of an entity, or "" if nothing has been
// seen for it yet.
func (b *Bus) State(entity string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.states[entity]
}

// IsNight reports whether the sun entity is below the horizon. An unknown
// sun state counts as day so night-only rooms fail toward lights-off.
func (b *Bus) IsNight() bool {
	switch s := b.State(b.sunEntity); s {
	case "below_horizon":
		return true
	case "above_horizon":
		return false
	default:
		log.Warn().Str("entity", b.sunEntity).Str("state", s).Msg("Sun state unknown; assuming day")
		return false
	}
}

func (b *Bus) TurnOn(entity string) error  { return b.command(entity, "on") }
func (b *Bus) TurnOff(entity string) error { return b.command(entity, "off") }

func (b *Bus) StartTimer(entity string) error  { return b.command(entity, "start") }
func (b *Bus) CancelTimer(entity string) error { return b.command(entity, "cancel") }

func (b *Bus) command(entity, payload string) error {
	topic := CommandTopic(b.cfg.CommandPrefix, entity)
	if topic == "" {
		return fmt.Errorf("malformed entity id %q", entity)
	}
	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	log.Debug().Str("topic", topic).Str("payload", payload).Msg("Published command")
	return nil
}

func (b *Bus) Close() {
	b.client.Disconnect(1000)
	log.Info().Msg("Disconnected from MQTT broker")
}

func (b *Bus) onConnect(c mqtt.Client) {
	b.mu.Lock()
	tracked := make([]string, len(b.tracked))
	copy(tracked, b.tracked)
	lost := b.wasLost
	b.wasLost = false
	b.mu.Unlock()

	for _, e := range tracked {
		topic := StateTopic(b.cfg.StatestreamPrefix, e)
		token := c.Subscribe(topic, b.cfg.QoS, b.handleMessage)
		if !token.WaitTimeout(10 * time.Second) {
			log.Error().Str("topic", topic).Msg("Timed out subscribing")
			continue
		}
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Subscribe failed")
		}
	}
	log.Info().Int("entities", len(tracked)).Str("broker", b.cfg.Broker).Msg("Connected to MQTT broker")

	if lost {
		notifications.Send("Room controller", "MQTT connection restored")
	}
}

func (b *Bus) onConnectionLost(c mqtt.Client, err error) {
	b.mu.Lock()
	b.wasLost = true
	b.mu.Unlock()

	log.Warn().Err(err).Msg("MQTT connection lost; retrying")
	notifications.Send("Room controller", fmt.Sprintf("MQTT connection lost: %v", err))
}

func (b *Bus) handleMessage(c mqtt.Client, msg mqtt.Message) {
	entity, ok := EntityFromStateTopic(b.cfg.StatestreamPrefix, msg.Topic())
	if !ok {
		log.Debug().Str("topic", msg.Topic()).Msg("Ignoring message on unexpected topic")
		return
	}
	payload := string(msg.Payload())

	b.mu.Lock()
	old, seen := b.states[entity]
	b.states[entity] = payload
	handler := b.handler
	b.mu.Unlock()

	if handler == nil {
		return
	}
	if seen && old == payload {
		return
	}
	handler(StateChange{Entity: entity, Old: old, New: payload, At: time.Now()})
}
