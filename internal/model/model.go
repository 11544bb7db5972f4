package model

import "time"

type Behavior string

const (
	BehaviorNormal    Behavior = "normal"
	BehaviorNightOnly Behavior = "night_only"
	BehaviorBathroom  Behavior = "bathroom"
)

type TriggerSource string

const (
	TriggerNone        TriggerSource = "none"
	TriggerManual      TriggerSource = "manual"
	TriggerHumidity    TriggerSource = "humidity"
	TriggerTemperature TriggerSource = "temperature"
)

type SignalKind string

const (
	SignalHumidity    SignalKind = "humidity"
	SignalTemperature SignalKind = "temperature"
)

// FanOwnership records whether the fans in a room are running and which
// trigger owns them. Active is always false when TriggeredBy is TriggerNone.
type FanOwnership struct {
	Active      bool          `json:"active"`
	TriggeredBy TriggerSource `json:"triggered_by"`
}

// Sample is one timestamped reading from a continuous sensor.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// SignalSnapshot is the externally visible state of one tracked signal.
type SignalSnapshot struct {
	Baseline  float64 `json:"baseline"`
	LastValue float64 `json:"last_value"`
	Threshold float64 `json:"threshold"`
}

// RoomSnapshot is a point-in-time copy of a room's runtime state, safe to
// serialize outside the room's own goroutine.
type RoomSnapshot struct {
	Name        string          `json:"name"`
	Behavior    Behavior        `json:"behavior"`
	Occupied    bool            `json:"occupied"`
	Fan         FanOwnership    `json:"fan"`
	Humidity    *SignalSnapshot `json:"humidity,omitempty"`
	Temperature *SignalSnapshot `json:"temperature,omitempty"`
}
