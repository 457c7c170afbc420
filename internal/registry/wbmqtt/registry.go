// Package wbmqtt implements registry.Registry on top of the Wiren Board MQTT
// conventions.
//
// Every control lives under /devices/<device>/controls/<control>: the retained
// payload is its value, meta/<field> subtopics describe it, and writes are
// requested on the /on subtopic. Devices defined through this registry are
// owned: their state is authoritative locally and published retained. All
// other devices are observed from the broker and commanded through /on.
package wbmqtt

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/mqtt"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

// Transport is the MQTT surface the registry needs. *mqtt.Client implements it.
type Transport interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(filter string, handler mqtt.MessageHandler) error
}

type control struct {
	meta registry.Control
	// typed is set once meta/type is known.
	typed bool
	raw   string

	value    registry.Value
	hasValue bool
	errValue registry.Value
	hasError bool

	owned bool
}

func (c *control) exists() bool {
	return c.owned || c.typed || c.hasValue
}

type subscription struct {
	id int
	fn registry.ChangeFunc
}

// Registry is a registry.Registry backed by an MQTT broker.
type Registry struct {
	transport Transport
	driver    string
	logger    zerolog.Logger

	mu       sync.RWMutex
	controls map[registry.Topic]*control
	owned    map[string]string // device name -> title
	subs     map[registry.Topic][]subscription
	nextID   int
}

// New creates a registry. driver is published as meta/driver of owned devices.
func New(transport Transport, driver string) *Registry {
	return &Registry{
		transport: transport,
		driver:    driver,
		logger:    log.With().Str("component", "wbmqtt").Logger(),
		controls:  make(map[registry.Topic]*control),
		owned:     make(map[string]string),
		subs:      make(map[registry.Topic][]subscription),
	}
}

// Start subscribes to control meta and state. Meta is subscribed first so the
// broker replays retained types before values.
func (r *Registry) Start() error {
	for _, filter := range []string{filterControlMeta, filterState} {
		if err := r.transport.Subscribe(filter, r.handleMessage); err != nil {
			return fmt.Errorf("subscribing %s: %w", filter, err)
		}
	}
	return nil
}

// Exists implements registry.Registry.
func (r *Registry) Exists(t registry.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.controls[t.Base()]
	return c != nil && c.exists()
}

// Get implements registry.Registry.
func (r *Registry) Get(t registry.Topic) (registry.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.controls[t.Base()]
	if c == nil || !c.exists() {
		return registry.Value{}, false
	}
	if t.IsError() {
		return c.errValue, c.hasError
	}
	return c.value, c.hasValue
}

// Set implements registry.Registry. Owned controls change immediately and are
// published retained; other controls receive a command on their /on topic and
// change once the device reports back.
func (r *Registry) Set(t registry.Topic, v registry.Value) error {
	base := t.Base()

	r.mu.Lock()
	c := r.controls[base]
	if c == nil || !c.exists() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", registry.ErrUnknownTopic, t)
	}

	if !c.owned {
		r.mu.Unlock()
		if t.IsError() {
			return fmt.Errorf("%w: %s", registry.ErrNotOwnedDevice, t.Device())
		}
		return r.transport.Publish(commandTopic(base), []byte(encode(v)), false)
	}

	var (
		topic    string
		retained = true
		changed  bool
	)
	if t.IsError() {
		changed = !c.hasError || !c.errValue.Equal(v)
		c.errValue = v
		c.hasError = true
		topic = metaTopic(base, metaError)
	} else {
		changed = c.meta.Type == registry.TypePushbutton || !c.value.Equal(v)
		c.value = v
		c.hasValue = true
		topic = stateTopic(base)
		retained = c.meta.Type != registry.TypePushbutton
	}
	fns := r.subscribers(t, changed)
	r.mu.Unlock()

	err := r.transport.Publish(topic, []byte(encode(v)), retained)
	r.notify(fns, t, v)
	return err
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

// DefineDevice implements registry.Registry. Retained state left on the broker
// by a previous run is taken over.
func (r *Registry) DefineDevice(name, title string) error {
	r.mu.Lock()
	if _, ok := r.owned[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", registry.ErrDeviceExists, name)
	}
	r.owned[name] = title
	r.mu.Unlock()

	err := errors.Join(
		r.transport.Publish(deviceMetaTopic(name, "name"), []byte(title), true),
		r.transport.Publish(deviceMetaTopic(name, "driver"), []byte(r.driver), true),
		r.transport.Subscribe(devicesPrefix+name+"/controls/+/on", r.handleMessage),
	)
	if err != nil {
		return fmt.Errorf("defining device %s: %w", name, err)
	}

	r.logger.Debug().Str("device", name).Str("title", title).Msg("Defined virtual device")
	return nil
}

// AddControl implements registry.Registry.
func (r *Registry) AddControl(deviceName string, c registry.Control) error {
	t := registry.NewTopic(deviceName, c.Name)

	r.mu.Lock()
	if _, ok := r.owned[deviceName]; !ok {
		r.mu.Unlock()
		if r.seen(deviceName) {
			return fmt.Errorf("%w: %s", registry.ErrNotOwnedDevice, deviceName)
		}
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, deviceName)
	}
	stale := r.controls[t]
	if stale != nil && stale.owned {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", registry.ErrControlExists, t)
	}
	r.controls[t] = &control{meta: c, typed: true, value: c.Value, hasValue: true, owned: true}
	r.mu.Unlock()

	errs := []error{
		r.publishMeta(t, metaType, string(c.Type)),
		r.publishMeta(t, metaReadOnly, formatBool(c.ReadOnly)),
	}
	if c.Order > 0 {
		errs = append(errs, r.publishMeta(t, metaOrder, strconv.Itoa(c.Order)))
	}
	if c.Type == registry.TypeRange {
		errs = append(errs,
			r.publishMeta(t, metaMin, formatFloat(c.Min)),
			r.publishMeta(t, metaMax, formatFloat(c.Max)),
		)
	}
	if c.Title != "" {
		errs = append(errs, r.publishMeta(t, metaTitle, c.Title))
	}
	if stale != nil && stale.hasError {
		errs = append(errs, r.publishMeta(t, metaError, ""))
	}
	if c.Type != registry.TypePushbutton {
		errs = append(errs, r.transport.Publish(stateTopic(t), []byte(encode(c.Value)), true))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("adding control %s: %w", t, err)
	}
	return nil
}

func (r *Registry) publishMeta(t registry.Topic, field, value string) error {
	return r.transport.Publish(metaTopic(t, field), []byte(value), true)
}

// seen reports whether any control of the device was observed on the broker.
func (r *Registry) seen(deviceName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for t, c := range r.controls {
		if t.Device() == deviceName && c.exists() {
			return true
		}
	}
	return false
}

// handleMessage routes every message received from the broker.
func (r *Registry) handleMessage(topic string, payload []byte) error {
	m, ok := parse(topic)
	if !ok {
		return nil
	}
	switch {
	case m.command:
		return r.handleCommand(m.topic, string(payload))
	case m.meta != "":
		r.handleMeta(m.topic, m.meta, string(payload))
	default:
		r.handleState(m.topic, string(payload))
	}
	return nil
}

func (r *Registry) handleState(t registry.Topic, payload string) {
	r.mu.Lock()
	c := r.control(t)
	// Owned state is authoritative; this is our own retained echo.
	if c.owned {
		r.mu.Unlock()
		return
	}

	v := decode(payload, c.meta.Type, c.typed)
	changed := !c.hasValue || !c.value.Equal(v) || c.meta.Type == registry.TypePushbutton
	c.raw = payload
	c.value = v
	c.hasValue = true
	fns := r.subscribers(t, changed)
	r.mu.Unlock()

	r.notify(fns, t, v)
}

func (r *Registry) handleMeta(t registry.Topic, field, payload string) {
	r.mu.Lock()
	c := r.control(t)
	if c.owned {
		r.mu.Unlock()
		return
	}

	var fns []registry.ChangeFunc
	var errValue registry.Value
	switch field {
	case metaType:
		c.meta.Type = registry.ControlType(payload)
		c.typed = true
		if c.hasValue {
			c.value = decode(c.raw, c.meta.Type, true)
		}
	case metaReadOnly:
		c.meta.ReadOnly = payload == "1" || payload == "true"
	case metaError:
		errValue = registry.Text(payload)
		changed := !c.hasError || !c.errValue.Equal(errValue)
		c.errValue = errValue
		c.hasError = true
		fns = r.subscribers(t.Error(), changed)
	case metaOrder:
		if n, err := strconv.Atoi(payload); err == nil {
			c.meta.Order = n
		}
	case metaMin:
		if f, err := strconv.ParseFloat(payload, 64); err == nil {
			c.meta.Min = f
		}
	case metaMax:
		if f, err := strconv.ParseFloat(payload, 64); err == nil {
			c.meta.Max = f
		}
	case metaTitle:
		c.meta.Title = payload
	}
	r.mu.Unlock()

	r.notify(fns, t.Error(), errValue)
}

// handleCommand applies a write request on an owned, writable control.
func (r *Registry) handleCommand(t registry.Topic, payload string) error {
	r.mu.RLock()
	c := r.controls[t]
	if c == nil || !c.owned || c.meta.ReadOnly {
		r.mu.RUnlock()
		return nil
	}
	v := decode(payload, c.meta.Type, true)
	r.mu.RUnlock()

	return r.Set(t, v)
}

// Control returns the known metadata of a control.
func (r *Registry) Control(t registry.Topic) (registry.Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.controls[t.Base()]
	if c == nil || !c.exists() {
		return registry.Control{}, false
	}
	meta := c.meta
	meta.Name = t.Control()
	meta.Value = c.value
	return meta, true
}

// control returns the entry for t, creating it. Caller holds the write lock.
func (r *Registry) control(t registry.Topic) *control {
	c := r.controls[t]
	if c == nil {
		c = &control{}
		r.controls[t] = c
	}
	return c
}

// subscribers snapshots the callbacks for t. Caller holds the lock.
func (r *Registry) subscribers(t registry.Topic, changed bool) []registry.ChangeFunc {
	if !changed {
		return nil
	}
	list := r.subs[t]
	fns := make([]registry.ChangeFunc, 0, len(list))
	for _, s := range list {
		fns = append(fns, s.fn)
	}
	return fns
}

func (r *Registry) notify(fns []registry.ChangeFunc, t registry.Topic, v registry.Value) {
	for _, fn := range fns {
		fn(registry.Change{Topic: t, Value: v})
	}
}
