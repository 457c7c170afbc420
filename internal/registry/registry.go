package registry

import "errors"

var (
	ErrInvalidTopic   = errors.New("invalid topic")
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrUnknownDevice  = errors.New("unknown device")
	ErrDeviceExists   = errors.New("device already defined")
	ErrControlExists  = errors.New("control already defined")
	ErrNotOwnedDevice = errors.New("device is not owned by this registry")
)

// ControlType is the widget type of a control.
type ControlType string

const (
	TypeSwitch     ControlType = "switch"
	TypePushbutton ControlType = "pushbutton"
	TypeValue      ControlType = "value"
	TypeRange      ControlType = "range"
	TypeAlarm      ControlType = "alarm"
	TypeText       ControlType = "text"
)

// ValueKind returns the value kind carried by controls of this type.
func (t ControlType) ValueKind() Kind {
	switch t {
	case TypeSwitch, TypePushbutton, TypeAlarm:
		return KindBool
	case TypeText:
		return KindText
	default:
		return KindNumber
	}
}

// Control describes a control added to a virtual device.
type Control struct {
	Name     string
	Title    string
	Type     ControlType
	Value    Value
	ReadOnly bool
	Min      float64
	Max      float64
	Order    int
}

// Change is a single change notification.
type Change struct {
	Topic Topic
	Value Value
}

// ChangeFunc receives change notifications. It may be called from any goroutine.
type ChangeFunc func(Change)

// Registry is the host device registry.
type Registry interface {
	// Exists reports whether the device of the topic is known and has the control.
	Exists(t Topic) bool

	// Get returns the current value of the topic. For error topics the second
	// result is false while no error attribute is defined.
	Get(t Topic) (Value, bool)

	// Set writes a value. For physical devices this is a command; for
	// devices defined through DefineDevice it updates the control directly.
	Set(t Topic, v Value) error

	// Subscribe registers fn for changes on any of the topics.
	// The returned function removes the subscription.
	Subscribe(topics []Topic, fn ChangeFunc) (cancel func())

	// DefineDevice creates a virtual device owned by the caller.
	DefineDevice(name, title string) error

	// AddControl adds a control to a virtual device.
	AddControl(device string, c Control) error
}
