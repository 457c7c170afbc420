package group

import (
	"fmt"

	"github.com/SmithLEDs/wb-buttonLight/internal/loop"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

// Category is the role of a physical device within a lighting group.
type Category string

const (
	CategoryButton Category = "button"
	CategoryLight  Category = "light"
	CategoryMotion Category = "motion"
)

// Devices holds the physical devices of one category that were found in the registry.
//
// Targets, ErrorTopics, VirtualTopics, LastValue, Kinds and Valid are parallel:
// index i refers to the same physical device in all of them. The lists only grow.
type Devices struct {
	Category Category

	Targets       []registry.Topic
	ErrorTopics   []registry.Topic
	VirtualTopics []registry.Topic
	LastValue     []registry.Value
	Kinds         []registry.Kind
	Valid         []bool

	// GroupValid is true while at least one device is valid.
	GroupValid bool

	// errored tracks the latest error state, which may lead Valid during the recovery delay.
	errored []bool
	// recovery holds the pending settle timer of each device, at most one.
	recovery []loop.Handle

	byTarget  map[registry.Topic]int
	byError   map[registry.Topic]int
	byVirtual map[registry.Topic]int
}

func newDevices(category Category) *Devices {
	return &Devices{
		Category:  category,
		byTarget:  make(map[registry.Topic]int),
		byError:   make(map[registry.Topic]int),
		byVirtual: make(map[registry.Topic]int),
	}
}

// Populate collects the topics of source that exist in the registry, in input order.
// Missing topics are skipped; virtual mirrors are numbered among existing devices only.
func Populate(reg registry.Registry, groupName string, category Category, source []registry.Topic) *Devices {
	d := newDevices(category)
	for _, t := range source {
		if _, dup := d.byTarget[t]; dup || !reg.Exists(t) {
			continue
		}
		v, _ := reg.Get(t)
		d.add(t, registry.NewTopic(groupName, fmt.Sprintf("%s_%d", category, d.Len())), v)
	}
	d.recomputeGroupValid()
	return d
}

func (d *Devices) add(target, virtual registry.Topic, v registry.Value) {
	i := len(d.Targets)
	d.Targets = append(d.Targets, target)
	d.ErrorTopics = append(d.ErrorTopics, target.Error())
	d.VirtualTopics = append(d.VirtualTopics, virtual)
	d.LastValue = append(d.LastValue, v)
	d.Kinds = append(d.Kinds, v.Kind)
	d.Valid = append(d.Valid, true)
	d.errored = append(d.errored, false)
	d.recovery = append(d.recovery, nil)

	d.byTarget[target] = i
	d.byError[target.Error()] = i
	d.byVirtual[virtual] = i
}

// Len returns the number of devices.
func (d *Devices) Len() int {
	return len(d.Targets)
}

// Exists reports whether at least one device was found.
func (d *Devices) Exists() bool {
	return d.Len() > 0
}

// IndexOfTarget returns the index of a physical topic.
func (d *Devices) IndexOfTarget(t registry.Topic) (int, bool) {
	i, ok := d.byTarget[t]
	return i, ok
}

// IndexOfError returns the index of an error topic.
func (d *Devices) IndexOfError(t registry.Topic) (int, bool) {
	i, ok := d.byError[t]
	return i, ok
}

// IndexOfVirtual returns the index of a virtual mirror topic.
func (d *Devices) IndexOfVirtual(t registry.Topic) (int, bool) {
	i, ok := d.byVirtual[t]
	return i, ok
}

// ControlName returns the name of the virtual mirror control of device i.
func (d *Devices) ControlName(i int) string {
	return d.VirtualTopics[i].Control()
}

// AnyValidOn reports whether any valid device is on. When no device is
// valid the last known values of all devices are used instead.
func (d *Devices) AnyValidOn() bool {
	for i, v := range d.LastValue {
		if (d.Valid[i] || !d.GroupValid) && v.Truthy() {
			return true
		}
	}
	return false
}

// recomputeGroupValid sets GroupValid to the OR of per-device validity and returns it.
func (d *Devices) recomputeGroupValid() bool {
	d.GroupValid = false
	for _, ok := range d.Valid {
		if ok {
			d.GroupValid = true
			break
		}
	}
	return d.GroupValid
}

// stopRecovery cancels the pending settle timer of device i, if any.
func (d *Devices) stopRecovery(i int) {
	if d.recovery[i] != nil {
		d.recovery[i].Stop()
		d.recovery[i] = nil
	}
}

func (d *Devices) markInvalid(i int) (changed bool) {
	d.errored[i] = true
	changed = d.Valid[i]
	d.Valid[i] = false
	d.recomputeGroupValid()
	return changed
}

func (d *Devices) markValid(i int) (changed bool) {
	changed = !d.Valid[i]
	d.Valid[i] = true
	d.GroupValid = true
	return changed
}
