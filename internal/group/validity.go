package group

import (
	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

func (g *Group) installValidityRules() {
	for _, d := range []*Devices{g.buttons, g.lights, g.motion} {
		if !d.Exists() {
			continue
		}
		d := d
		g.subscribe(d.ErrorTopics, func(c registry.Change) { g.onDeviceError(d, c) })
	}
}

// onDeviceError mirrors the error attribute and demotes or schedules recovery of the device.
func (g *Group) onDeviceError(d *Devices, c registry.Change) {
	i, ok := d.IndexOfError(c.Topic)
	if !ok {
		return
	}
	g.set(d.VirtualTopics[i].Error(), c.Value)
	d.stopRecovery(i)

	if c.Value.Truthy() {
		if d.markInvalid(i) {
			g.logger.Warn().
				Str("category", string(d.Category)).
				Str("topic", d.Targets[i].String()).
				Str("error", c.Value.String()).
				Bool("group_valid", d.GroupValid).
				Msg("Device reports an error, excluding it")
			g.publish(eventbus.EventDeviceInvalid, map[string]any{
				"category":    string(d.Category),
				"topic":       d.Targets[i].String(),
				"error":       c.Value.String(),
				"group_valid": d.GroupValid,
			})
			g.afterValidityChange(d)
		}
		return
	}

	d.errored[i] = false
	d.recovery[i] = g.sched.AfterFunc(RecoveryDelay, func() {
		d.recovery[i] = nil
		if d.errored[i] {
			return
		}
		if !d.markValid(i) {
			return
		}
		g.logger.Info().
			Str("category", string(d.Category)).
			Str("topic", d.Targets[i].String()).
			Msg("Device recovered")
		g.publish(eventbus.EventDeviceRecovered, map[string]any{
			"category": string(d.Category),
			"topic":    d.Targets[i].String(),
		})
		g.afterValidityChange(d)
	})
}

// afterValidityChange re-runs the aggregations that depend on device validity.
func (g *Group) afterValidityChange(d *Devices) {
	switch d.Category {
	case CategoryLight:
		g.refreshStateGroup()
	case CategoryMotion:
		if g.motionTracked {
			g.evaluateMotion()
		}
	}
}
