// Package memory provides an in-process device registry.
//
// It backs the demo mode of the daemon and the tests. Commands written to
// physical devices are applied immediately, as if the device driver had
// acknowledged them.
package memory

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

type control struct {
	meta     registry.Control
	value    registry.Value
	errValue registry.Value
	hasError bool
}

type device struct {
	title    string
	owned    bool
	controls map[string]*control
}

type subscription struct {
	id int
	fn registry.ChangeFunc
}

// Registry is an in-memory registry.Registry.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*device
	subs    map[registry.Topic][]subscription
	nextID  int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]*device),
		subs:    make(map[registry.Topic][]subscription),
	}
}

// AddPhysicalDevice registers a device that is not owned by the caller,
// together with its controls.
func (r *Registry) AddPhysicalDevice(name string, controls ...registry.Control) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[name]
	if !ok {
		dev = &device{title: name, controls: make(map[string]*control)}
		r.devices[name] = dev
	}
	for _, c := range controls {
		dev.controls[c.Name] = &control{meta: c, value: c.Value}
	}
}

// Exists implements registry.Registry.
func (r *Registry) Exists(t registry.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(t) != nil
}

// Get implements registry.Registry.
func (r *Registry) Get(t registry.Topic) (registry.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.lookup(t)
	if c == nil {
		return registry.Value{}, false
	}
	if t.IsError() {
		return c.errValue, c.hasError
	}
	return c.value, true
}

// Set implements registry.Registry.
func (r *Registry) Set(t registry.Topic, v registry.Value) error {
	r.mu.Lock()
	c := r.lookup(t)
	if c == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", registry.ErrUnknownTopic, t)
	}

	changed := true
	if t.IsError() {
		changed = !c.hasError || !c.errValue.Equal(v)
		c.errValue = v
		c.hasError = true
	} else {
		if c.meta.Type != registry.TypePushbutton {
			changed = !c.value.Equal(v)
		}
		c.value = v
	}

	var fns []registry.ChangeFunc
	if changed {
		for _, s := range r.subs[t] {
			fns = append(fns, s.fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(registry.Change{Topic: t, Value: v})
	}
	return nil
}

// Subscribe implements registry.Registry.
func (r *Registry) Subscribe(topics []registry.Topic, fn registry.ChangeFunc) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	for _, t := range topics {
		r.subs[t] = append(r.subs[t], subscription{id: id, fn: fn})
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, t := range topics {
			list := r.subs[t]
			for i, s := range list {
				if s.id == id {
					r.subs[t] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
	}
}

// DefineDevice implements registry.Registry.
func (r *Registry) DefineDevice(name, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[name]; ok {
		return fmt.Errorf("%w: %s", registry.ErrDeviceExists, name)
	}
	r.devices[name] = &device{title: title, owned: true, controls: make(map[string]*control)}

	log.Debug().Str("device", name).Str("title", title).Msg("Defined virtual device")
	return nil
}

// AddControl implements registry.Registry.
func (r *Registry) AddControl(deviceName string, c registry.Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[deviceName]
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, deviceName)
	}
	if !dev.owned {
		return fmt.Errorf("%w: %s", registry.ErrNotOwnedDevice, deviceName)
	}
	if _, ok := dev.controls[c.Name]; ok {
		return fmt.Errorf("%w: %s/%s", registry.ErrControlExists, deviceName, c.Name)
	}
	dev.controls[c.Name] = &control{meta: c, value: c.Value}
	return nil
}

// Control returns the metadata of a control, for inspection.
func (r *Registry) Control(t registry.Topic) (registry.Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.lookup(t)
	if c == nil {
		return registry.Control{}, false
	}
	return c.meta, true
}

// Controls returns the control names of a device.
func (r *Registry) Controls(deviceName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[deviceName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(dev.controls))
	for name := range dev.controls {
		names = append(names, name)
	}
	return names
}

// lookup must be called with the lock held.
func (r *Registry) lookup(t registry.Topic) *control {
	dev, ok := r.devices[t.Device()]
	if !ok {
		return nil
	}
	return dev.controls[t.Control()]
}
