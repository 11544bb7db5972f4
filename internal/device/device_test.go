package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCommander struct {
	states   map[string]string
	commands []string
	failOn   string
}

func (f *fakeCommander) State(entity string) string { return f.states[entity] }

func (f *fakeCommander) TurnOn(entity string) error {
	if entity == f.failOn {
		return errors.New("boom")
	}
	f.commands = append(f.commands, entity+":on")
	f.states[entity] = "on"
	return nil
}

func (f *fakeCommander) TurnOff(entity string) error {
	if entity == f.failOn {
		return errors.New("boom")
	}
	f.commands = append(f.commands, entity+":off")
	f.states[entity] = "off"
	return nil
}

func TestAllOn_SkipsEntitiesAlreadyOn(t *testing.T) {
	c := &fakeCommander{states: map[string]string{
		"light.a": "off",
		"light.b": "on",
	}}
	g := Group{Room: "bath", Kind: "lights", Entities: []string{"light.a", "light.b"}}

	g.AllOn(c)

	assert.Equal(t, []string{"light.a:on"}, c.commands)
}

func TestAllOn_SkipsUnavailableEntities(t *testing.T) {
	c := &fakeCommander{states: map[string]string{
		"light.a": "unavailable",
		"light.b": "unknown",
		"light.c": "off",
	}}
	g := Group{Room: "bath", Kind: "lights", Entities: []string{"light.a", "light.b", "light.c", "light.d"}}

	g.AllOn(c)

	assert.Equal(t, []string{"light.c:on"}, c.commands)
}

func TestAllOff_ContinuesPastFailedCommand(t *testing.T) {
	c := &fakeCommander{
		states: map[string]string{"fan.a": "on", "fan.b": "on"},
		failOn: "fan.a",
	}
	g := Group{Room: "bath", Kind: "fans", Entities: []string{"fan.a", "fan.b"}}

	g.AllOff(c)

	assert.Equal(t, []string{"fan.b:off"}, c.commands)
}

func TestAnyOn(t *testing.T) {
	c := &fakeCommander{states: map[string]string{
		"binary_sensor.motion_a": "off",
		"binary_sensor.motion_b": "on",
	}}
	g := Group{Room: "bath", Kind: "motion", Entities: []string{"binary_sensor.motion_a", "binary_sensor.motion_b"}}

	assert.True(t, g.AnyOn(c))

	c.states["binary_sensor.motion_b"] = "off"
	assert.False(t, g.AnyOn(c))
}

func TestEmpty(t *testing.T) {
	assert.True(t, Group{}.Empty())
	assert.False(t, Group{Entities: []string{"light.a"}}.Empty())
}
