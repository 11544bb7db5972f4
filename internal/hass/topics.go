package hass

import "strings"

// StateTopic maps an entity id to its statestream topic, e.g.
// "binary_sensor.bath_motion" -> "<prefix>/binary_sensor/bath_motion/state".
// Returns "" for a malformed entity id.
func StateTopic(prefix, entityID string) string {
	domain, object, ok := splitEntityID(entityID)
	if !ok {
		return ""
	}
	return prefix + "/" + domain + "/" + object + "/state"
}

// CommandTopic maps an entity id to the topic the bridge automation watches
// for commands, e.g. "fan.bath_exhaust" -> "<prefix>/fan/bath_exhaust/set".
func CommandTopic(prefix, entityID string) string {
	domain, object, ok := splitEntityID(entityID)
	if !ok {
		return ""
	}
	return prefix + "/" + domain + "/" + object + "/set"
}

// EntityFromStateTopic inverts StateTopic. Attribute topics and anything
// else under the prefix are rejected.
func EntityFromStateTopic(prefix, topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

func splitEntityID(entityID string) (domain, object string, ok bool) {
	domain, object, ok = strings.Cut(entityID, ".")
	if !ok || domain == "" || object == "" || strings.Contains(object, ".") {
		return "", "", false
	}
	return domain, object, true
}
