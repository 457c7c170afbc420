package wbmqtt

import (
	"strconv"
	"strings"

	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

// Wiren Board topic layout.
const (
	devicesPrefix = "/devices/"

	filterState       = "/devices/+/controls/+"
	filterControlMeta = "/devices/+/controls/+/meta/+"
)

// Control meta fields.
const (
	metaType     = "type"
	metaReadOnly = "readonly"
	metaError    = "error"
	metaOrder    = "order"
	metaMin      = "min"
	metaMax      = "max"
	metaTitle    = "title"
)

func stateTopic(t registry.Topic) string {
	return devicesPrefix + t.Device() + "/controls/" + t.Control()
}

func commandTopic(t registry.Topic) string {
	return stateTopic(t) + "/on"
}

func metaTopic(t registry.Topic, field string) string {
	return stateTopic(t) + "/meta/" + field
}

func deviceMetaTopic(device, field string) string {
	return devicesPrefix + device + "/meta/" + field
}

// message is a parsed Wiren Board topic.
type message struct {
	topic registry.Topic
	// meta is the control meta field, empty for state messages.
	meta string
	// command is set for "/on" messages.
	command bool
}

// parse splits "/devices/<dev>/controls/<ctl>[/on|/meta/<field>]".
func parse(topic string) (message, bool) {
	rest, ok := strings.CutPrefix(topic, devicesPrefix)
	if !ok {
		return message{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || parts[1] != "controls" || parts[0] == "" || parts[2] == "" {
		return message{}, false
	}

	m := message{topic: registry.NewTopic(parts[0], parts[2])}
	switch {
	case len(parts) == 3:
	case len(parts) == 4 && parts[3] == "on":
		m.command = true
	case len(parts) == 5 && parts[3] == "meta":
		m.meta = parts[4]
	default:
		return message{}, false
	}
	return m, true
}

// decode interprets a payload according to the control type.
// Without a known type, numeric payloads decode as numbers and the rest as text.
func decode(payload string, t registry.ControlType, typed bool) registry.Value {
	if !typed {
		if f, err := strconv.ParseFloat(payload, 64); err == nil {
			return registry.Number(f)
		}
		return registry.Text(payload)
	}

	switch t.ValueKind() {
	case registry.KindBool:
		return registry.Bool(payload == "1" || payload == "true")
	case registry.KindText:
		return registry.Text(payload)
	default:
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return registry.Text(payload)
		}
		return registry.Number(f)
	}
}

// encode renders a value in Wiren Board form.
func encode(v registry.Value) string {
	if v.Kind == registry.KindBool {
		if v.Bool {
			return "1"
		}
		return "0"
	}
	return v.String()
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
