package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/room-controller/internal/model"
)

type MQTT struct {
	Broker            string `json:"broker"`
	ClientID          string `json:"client_id"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	StatestreamPrefix string `json:"statestream_prefix"`
	CommandPrefix     string `json:"command_prefix"`
	QoS               byte   `json:"qos"`
	SettleSeconds     int    `json:"settle_seconds"`
}

type Room struct {
	Name               string         `json:"name"`
	Behavior           model.Behavior `json:"behavior"`
	Lights             []string       `json:"lights"`
	Fans               []string       `json:"fans"`
	MotionSensors      []string       `json:"motion_sensors"`
	DoorSensors        []string       `json:"door_sensors"`
	PresenceSensors    []string       `json:"presence_sensors"`
	HumiditySensors    []string       `json:"humidity_sensors"`
	TemperatureSensors []string       `json:"temperature_sensors"`
	TimerEntity        string         `json:"timer_entity"`
	LightOverride      string         `json:"light_override"`

	// Spike detection deltas above baseline, in signal units.
	HumidityThreshold    float64 `json:"humidity_threshold"`
	TemperatureThreshold float64 `json:"temperature_threshold"`
}

type Config struct {
	ConfigFile     string
	LogLevel       zerolog.Level
	LogFile        string
	InstallService bool

	MQTT  MQTT   `json:"mqtt"`
	Rooms []Room `json:"rooms"`

	SunEntity string `json:"sun_entity"`
	APIPort   int    `json:"api_port"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyServer string `json:"ntfy_server"`
	NtfyTopic  string `json:"ntfy_topic"`
}

const (
	DefaultHumidityThreshold    = 5.0
	DefaultTemperatureThreshold = 3.0
)

func Load() Config {
	var configFile, logLevel, logFile string
	var installService bool

	flag.StringVar(&configFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&logFile, "log-file", "", "Log file path (empty logs to stderr)")
	flag.BoolVar(&installService, "install-service", false, "Install the systemd unit and exit")
	flag.Parse()

	cfg, err := Read(configFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}

	cfg.ConfigFile = configFile
	cfg.LogLevel = parseLogLevel(logLevel)
	cfg.LogFile = logFile
	cfg.InstallService = installService
	return *cfg
}

// Read parses and validates a config file. Load wraps it with flag handling;
// tests call it directly.
func Read(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.validate()
	return &cfg, nil
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "room-controller"
	}
	if cfg.MQTT.StatestreamPrefix == "" {
		cfg.MQTT.StatestreamPrefix = "homeassistant/statestream"
	}
	if cfg.MQTT.CommandPrefix == "" {
		cfg.MQTT.CommandPrefix = "homeassistant/command"
	}
	if cfg.MQTT.SettleSeconds == 0 {
		cfg.MQTT.SettleSeconds = 2
	}
	if cfg.SunEntity == "" {
		cfg.SunEntity = "sun.sun"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.NtfyServer == "" {
		cfg.NtfyServer = "https://ntfy.sh"
	}

	for i := range cfg.Rooms {
		room := &cfg.Rooms[i]
		if room.Behavior == "" {
			room.Behavior = model.BehaviorNormal
		}
		if room.HumidityThreshold == 0 {
			room.HumidityThreshold = DefaultHumidityThreshold
		}
		if room.TemperatureThreshold == 0 {
			room.TemperatureThreshold = DefaultTemperatureThreshold
		}
	}
}

func (cfg *Config) validate() {
	var problems []string

	if cfg.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required")
	}
	if len(cfg.Rooms) == 0 {
		problems = append(problems, "at least one room must be configured")
	}

	seenRooms := map[string]bool{}
	seenTimers := map[string]string{}
	for _, room := range cfg.Rooms {
		if room.Name == "" {
			problems = append(problems, "room with empty name")
			continue
		}
		if seenRooms[room.Name] {
			problems = append(problems, "duplicate room name: "+room.Name)
		}
		seenRooms[room.Name] = true

		switch room.Behavior {
		case model.BehaviorNormal, model.BehaviorNightOnly, model.BehaviorBathroom:
		default:
			problems = append(problems, fmt.Sprintf("room %s has unknown behavior %q", room.Name, room.Behavior))
		}

		if room.HumidityThreshold < 0 || room.TemperatureThreshold < 0 {
			problems = append(problems, "room "+room.Name+" has a negative threshold")
		}

		if room.TimerEntity != "" {
			if other, ok := seenTimers[room.TimerEntity]; ok {
				problems = append(problems, fmt.Sprintf("rooms %s and %s share timer entity %s", other, room.Name, room.TimerEntity))
			}
			seenTimers[room.TimerEntity] = room.Name
		}
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}

// AllEntities returns every entity id referenced by the config, deduplicated,
// including the sun entity. This is the MQTT subscription set.
func (cfg *Config) AllEntities() []string {
	seen := map[string]bool{}
	var out []string
	add := func(ids ...string) {
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, room := range cfg.Rooms {
		add(room.Lights...)
		add(room.Fans...)
		add(room.MotionSensors...)
		add(room.DoorSensors...)
		add(room.PresenceSensors...)
		add(room.HumiditySensors...)
		add(room.TemperatureSensors...)
		add(room.TimerEntity, room.LightOverride)
	}
	add(cfg.SunEntity)
	return out
}
