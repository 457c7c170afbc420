// Package registry defines the device registry the lighting groups observe and command.
//
// A registry is a key-value store addressed by topics ("device/control") with
// subscribe-on-change semantics. Each control may carry an error attribute,
// addressed as "device/control#error".
package registry

import (
	"fmt"
	"strings"
)

// errorSuffix marks the error attribute of a control topic.
const errorSuffix = "#error"

// Topic addresses a single control ("device/control") or its error attribute
// ("device/control#error").
type Topic string

// NewTopic builds a topic from device and control names.
func NewTopic(device, control string) Topic {
	return Topic(device + "/" + control)
}

// Parse validates a topic string.
func Parse(s string) (Topic, error) {
	base := strings.TrimSuffix(s, errorSuffix)
	dev, ctl, ok := strings.Cut(base, "/")
	if !ok || dev == "" || ctl == "" || strings.Contains(ctl, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	return Topic(s), nil
}

// Device returns the device portion of the topic.
func (t Topic) Device() string {
	dev, _, _ := strings.Cut(string(t.Base()), "/")
	return dev
}

// Control returns the control portion of the topic.
func (t Topic) Control() string {
	_, ctl, _ := strings.Cut(string(t.Base()), "/")
	return ctl
}

// IsError reports whether the topic addresses an error attribute.
func (t Topic) IsError() bool {
	return strings.HasSuffix(string(t), errorSuffix)
}

// Base strips the error suffix, if any.
func (t Topic) Base() Topic {
	return Topic(strings.TrimSuffix(string(t), errorSuffix))
}

// Error returns the error attribute topic of the control.
func (t Topic) Error() Topic {
	return t.Base() + errorSuffix
}

func (t Topic) String() string {
	return string(t)
}
