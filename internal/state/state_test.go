package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/room-controller/internal/config"
	"github.com/thatsimonsguy/room-controller/internal/hass"
	"github.com/thatsimonsguy/room-controller/internal/model"
)

type fakeHA struct {
	mu     sync.Mutex
	states map[string]string
	night  bool
}

func (f *fakeHA) State(entity string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[entity]
}

func (f *fakeHA) set(entity, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[entity] = state
}

func (f *fakeHA) TurnOn(entity string) error {
	f.set(entity, "on")
	return nil
}

func (f *fakeHA) TurnOff(entity string) error {
	f.set(entity, "off")
	return nil
}

func (f *fakeHA) StartTimer(entity string) error {
	f.set(entity, "active")
	return nil
}

func (f *fakeHA) CancelTimer(entity string) error {
	f.set(entity, "idle")
	return nil
}

func (f *fakeHA) IsNight() bool { return f.night }

func testConfig() *config.Config {
	return &config.Config{
		Rooms: []config.Room{
			{
				Name:              "bath",
				Behavior:          model.BehaviorBathroom,
				Fans:              []string{"fan.bath"},
				MotionSensors:     []string{"binary_sensor.bath_motion"},
				HumiditySensors:   []string{"sensor.bath_humidity"},
				TimerEntity:       "timer.bath",
				HumidityThreshold: 5.0,
			},
			{
				Name:            "office",
				Behavior:        model.BehaviorNormal,
				Lights:          []string{"light.office"},
				PresenceSensors: []string{"binary_sensor.office_presence"},
			},
		},
	}
}

func newTestSystem(t *testing.T) (*System, *fakeHA) {
	t.Helper()
	ha := &fakeHA{states: map[string]string{
		"fan.bath":                      "off",
		"binary_sensor.bath_motion":     "off",
		"sensor.bath_humidity":          "50",
		"timer.bath":                    "idle",
		"light.office":                  "off",
		"binary_sensor.office_presence": "off",
	}}
	s := NewSystem(testConfig(), ha)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	return s, ha
}

func TestDispatchRoutesToOwningRoom(t *testing.T) {
	s, ha := newTestSystem(t)

	ha.set("binary_sensor.bath_motion", "on")
	s.Dispatch(hass.StateChange{Entity: "binary_sensor.bath_motion", Old: "off", New: "on", At: time.Now()})

	snap, err := s.Snapshot("bath")
	require.NoError(t, err)
	assert.True(t, snap.Occupied)

	other, err := s.Snapshot("office")
	require.NoError(t, err)
	assert.False(t, other.Occupied)
}

func TestDispatchIgnoresUnroutedEntities(t *testing.T) {
	s, _ := newTestSystem(t)

	s.Dispatch(hass.StateChange{Entity: "sun.sun", Old: "above_horizon", New: "below_horizon", At: time.Now()})

	snap, err := s.Snapshot("bath")
	require.NoError(t, err)
	assert.False(t, snap.Occupied)
}

func TestSnapshots_AllRoomsInConfigOrder(t *testing.T) {
	s, _ := newTestSystem(t)

	snaps := s.Snapshots()

	require.Len(t, snaps, 2)
	assert.Equal(t, "bath", snaps[0].Name)
	assert.Equal(t, "office", snaps[1].Name)
	assert.NotNil(t, snaps[0].Humidity)
	assert.Nil(t, snaps[1].Humidity)
}

func TestSnapshot_UnknownRoom(t *testing.T) {
	s, _ := newTestSystem(t)

	_, err := s.Snapshot("garage")

	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestManualFanRoundTrip(t *testing.T) {
	s, ha := newTestSystem(t)

	require.NoError(t, s.ManualFan("bath", true))
	snap, err := s.Snapshot("bath")
	require.NoError(t, err)
	assert.Equal(t, model.FanOwnership{Active: true, TriggeredBy: model.TriggerManual}, snap.Fan)
	assert.Equal(t, "on", ha.State("fan.bath"))

	require.NoError(t, s.ManualFan("bath", false))
	snap, err = s.Snapshot("bath")
	require.NoError(t, err)
	assert.False(t, snap.Fan.Active)
	assert.Equal(t, "off", ha.State("fan.bath"))
}

func TestManualFan_UnknownRoom(t *testing.T) {
	s, _ := newTestSystem(t)

	assert.ErrorIs(t, s.ManualFan("garage", true), ErrUnknownRoom)
}
