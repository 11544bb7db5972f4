package occupancy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/room-controller/internal/device"
	"github.com/thatsimonsguy/room-controller/internal/model"
)

type fakeHA struct {
	states map[string]string
	night  bool
	cmds   []string
}

func (f *fakeHA) State(entity string) string { return f.states[entity] }
func (f *fakeHA) IsNight() bool              { return f.night }

func (f *fakeHA) TurnOn(entity string) error {
	f.cmds = append(f.cmds, entity+":on")
	f.states[entity] = "on"
	return nil
}

func (f *fakeHA) TurnOff(entity string) error {
	f.cmds = append(f.cmds, entity+":off")
	f.states[entity] = "off"
	return nil
}

func (f *fakeHA) StartTimer(entity string) error {
	f.cmds = append(f.cmds, entity+":start")
	f.states[entity] = "active"
	return nil
}

func (f *fakeHA) CancelTimer(entity string) error {
	f.cmds = append(f.cmds, entity+":cancel")
	f.states[entity] = "idle"
	return nil
}

func newTestMachine(mutate func(*Params)) (*Machine, *fakeHA) {
	ha := &fakeHA{states: map[string]string{
		"light.bath":                  "off",
		"binary_sensor.bath_motion":   "off",
		"binary_sensor.bath_door":     "off",
		"binary_sensor.bath_presence": "off",
		"timer.bath":                  "idle",
	}}
	p := Params{
		Room:        "bath",
		Behavior:    model.BehaviorNormal,
		HA:          ha,
		Lights:      device.Group{Room: "bath", Kind: "lights", Entities: []string{"light.bath"}},
		Motion:      device.Group{Room: "bath", Kind: "motion", Entities: []string{"binary_sensor.bath_motion"}},
		Doors:       device.Group{Room: "bath", Kind: "doors", Entities: []string{"binary_sensor.bath_door"}},
		Presence:    device.Group{Room: "bath", Kind: "presence", Entities: []string{"binary_sensor.bath_presence"}},
		TimerEntity: "timer.bath",
	}
	if mutate != nil {
		mutate(&p)
	}
	return New(p), ha
}

func TestHandleActive_MarksOccupiedAndLightsOn(t *testing.T) {
	m, ha := newTestMachine(nil)
	ha.states["binary_sensor.bath_motion"] = "on"

	m.HandleActive("motion")

	assert.True(t, m.Occupied())
	assert.Equal(t, []string{"light.bath:on"}, ha.cmds)
}

func TestHandleActive_NightOnlyRespectsSun(t *testing.T) {
	m, ha := newTestMachine(func(p *Params) { p.Behavior = model.BehaviorNightOnly })

	m.HandleActive("motion")
	assert.Empty(t, ha.cmds, "daytime, lights stay off")
	assert.True(t, m.Occupied())

	ha.night = true
	m.HandleActive("motion")
	assert.Equal(t, []string{"light.bath:on"}, ha.cmds)
}

func TestHandleActive_BathroomNeverTouchesLights(t *testing.T) {
	m, ha := newTestMachine(func(p *Params) { p.Behavior = model.BehaviorBathroom })

	m.HandleActive("motion")

	assert.True(t, m.Occupied())
	assert.Empty(t, ha.cmds)
}

func TestHandleActive_OverrideSuppressesLights(t *testing.T) {
	m, ha := newTestMachine(func(p *Params) { p.LightOverride = "input_boolean.bath_light_override" })
	ha.states["input_boolean.bath_light_override"] = "on"

	m.HandleActive("motion")

	assert.True(t, m.Occupied())
	assert.Empty(t, ha.cmds)
}

func TestHandleActive_CancelsRunningTimer(t *testing.T) {
	m, ha := newTestMachine(nil)
	ha.states["timer.bath"] = "active"

	m.HandleActive("motion")

	assert.Equal(t, []string{"timer.bath:cancel", "light.bath:on"}, ha.cmds)
	assert.True(t, m.cancelPending)
}

func TestHandleMotionCleared_StartsTimer(t *testing.T) {
	m, ha := newTestMachine(nil)
	m.SetOccupied(true)

	m.HandleMotionCleared()

	assert.Equal(t, []string{"timer.bath:start"}, ha.cmds)
	assert.True(t, m.Occupied(), "room stays occupied until the timer decides")
}

func TestHandleMotionCleared_DefersToOtherSignals(t *testing.T) {
	m, ha := newTestMachine(nil)
	m.SetOccupied(true)
	ha.states["binary_sensor.bath_presence"] = "on"

	m.HandleMotionCleared()

	assert.Empty(t, ha.cmds)
	assert.True(t, m.Occupied())
}

func TestStartTimer_RefusedWhileSignalsActive(t *testing.T) {
	m, ha := newTestMachine(nil)
	ha.states["binary_sensor.bath_motion"] = "on"

	m.startTimer()

	assert.Empty(t, ha.cmds)
}

func TestStartTimer_NoTimerConfiguredClearsImmediately(t *testing.T) {
	m, ha := newTestMachine(func(p *Params) { p.TimerEntity = "" })
	m.SetOccupied(true)
	ha.states["light.bath"] = "on"

	m.HandleMotionCleared()

	assert.False(t, m.Occupied())
	assert.Equal(t, []string{"light.bath:off"}, ha.cmds)
}

func TestHandlePresenceCleared_ClearsImmediately(t *testing.T) {
	emptied := false
	m, ha := newTestMachine(func(p *Params) { p.OnEmpty = func() { emptied = true } })
	m.SetOccupied(true)
	ha.states["light.bath"] = "on"

	m.HandlePresenceCleared()

	assert.False(t, m.Occupied())
	assert.True(t, emptied)
	assert.Equal(t, []string{"light.bath:off"}, ha.cmds)
}

func TestHandleDoorClosed_NeedsPresenceSensors(t *testing.T) {
	m, ha := newTestMachine(func(p *Params) { p.Presence = device.Group{} })
	m.SetOccupied(true)

	m.HandleDoorClosed()

	assert.True(t, m.Occupied())
	assert.Empty(t, ha.cmds)
}

func TestHandleDoorClosed_ClearsWithPresenceCoverage(t *testing.T) {
	m, _ := newTestMachine(nil)
	m.SetOccupied(true)

	m.HandleDoorClosed()

	assert.False(t, m.Occupied())
}

func TestHandleTimerIdle_CancelEchoSwallowed(t *testing.T) {
	m, ha := newTestMachine(nil)
	ha.states["timer.bath"] = "active"
	ha.states["binary_sensor.bath_motion"] = "on"
	m.HandleActive("motion")
	ha.cmds = nil

	// The statestream reports the cancel as a transition to idle.
	m.HandleTimerIdle()

	assert.True(t, m.Occupied())
	assert.Empty(t, ha.cmds, "echo must not restart the timer or clear the room")
	assert.False(t, m.cancelPending)
}

func TestHandleTimerIdle_RestartsWhileSignalsActive(t *testing.T) {
	m, ha := newTestMachine(nil)
	m.SetOccupied(true)
	ha.states["binary_sensor.bath_motion"] = "on"

	m.HandleTimerIdle()

	assert.True(t, m.Occupied())
	assert.Equal(t, []string{"timer.bath:start"}, ha.cmds)
}

func TestHandleTimerIdle_ClearsEmptyRoom(t *testing.T) {
	emptied := false
	m, ha := newTestMachine(func(p *Params) { p.OnEmpty = func() { emptied = true } })
	m.SetOccupied(true)
	ha.states["light.bath"] = "on"

	m.HandleTimerIdle()

	assert.False(t, m.Occupied())
	assert.True(t, emptied)
	assert.Equal(t, []string{"light.bath:off"}, ha.cmds)
}

func TestClearRoom_AbortsWhenSignalReactivates(t *testing.T) {
	m, ha := newTestMachine(nil)
	m.SetOccupied(true)
	ha.states["binary_sensor.bath_door"] = "on"

	m.clearRoom()

	assert.True(t, m.Occupied())
	assert.Empty(t, ha.cmds)
}

func TestClearRoom_OverrideLeavesLights(t *testing.T) {
	emptied := false
	m, ha := newTestMachine(func(p *Params) {
		p.LightOverride = "input_boolean.bath_light_override"
		p.OnEmpty = func() { emptied = true }
	})
	m.SetOccupied(true)
	ha.states["light.bath"] = "on"
	ha.states["input_boolean.bath_light_override"] = "on"

	m.clearRoom()

	assert.False(t, m.Occupied())
	assert.True(t, emptied, "fan policy still runs")
	assert.Empty(t, ha.cmds)
}

func TestClearRoom_BathroomLightsOffOnEmpty(t *testing.T) {
	m, ha := newTestMachine(func(p *Params) { p.Behavior = model.BehaviorBathroom })
	m.SetOccupied(true)
	ha.states["light.bath"] = "on"

	m.clearRoom()

	assert.False(t, m.Occupied())
	assert.Equal(t, []string{"light.bath:off"}, ha.cmds, "bathrooms skip light-on, never light-off")
}

// Motion stops, the timer runs, motion returns before expiry: the timer is
// cancelled and its idle echo must not fire a clear afterward.
func TestMotionReturnsDuringTimerWindow(t *testing.T) {
	m, ha := newTestMachine(nil)
	ha.states["binary_sensor.bath_motion"] = "on"
	m.HandleActive("motion")
	ha.cmds = nil

	ha.states["binary_sensor.bath_motion"] = "off"
	m.HandleMotionCleared()
	assert.Equal(t, []string{"timer.bath:start"}, ha.cmds)

	ha.states["binary_sensor.bath_motion"] = "on"
	m.HandleActive("motion")
	assert.Contains(t, ha.cmds, "timer.bath:cancel")

	m.HandleTimerIdle()

	assert.True(t, m.Occupied())
	assert.Equal(t, "idle", ha.states["timer.bath"])
	assert.NotContains(t, ha.cmds[1:], "timer.bath:start", "cancelled timer must not restart")
}
