package group

import (
	"time"

	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

// motionErrorFlag marks the motion control while no sensor can be trusted.
var motionErrorFlag = registry.Text("r")

func (g *Group) installMotionRules() {
	g.subscribe([]registry.Topic{g.control(ControlSensitivity)}, g.onSensitivity)
	g.subscribe([]registry.Topic{g.control(ControlTimeout)}, g.onTimeout)
	g.subscribe(g.motion.Targets, g.onMotionSensor)
}

func (g *Group) onSensitivity(c registry.Change) {
	g.sensitivity = clamp(c.Value.Float(), MinSensitivity, MaxSensitivity)
	g.logger.Debug().Float64("sensitivity", g.sensitivity).Msg("Motion sensitivity changed")
}

func (g *Group) onTimeout(c registry.Change) {
	minutes := clamp(c.Value.Float(), MinTimeoutMinutes, MaxTimeoutMinutes)
	g.timeout = time.Duration(minutes * float64(time.Minute))
	g.logger.Debug().Float64("minutes", minutes).Msg("Switch-off timeout changed")
}

// onMotionSensor mirrors a sensor reading and re-evaluates presence.
func (g *Group) onMotionSensor(c registry.Change) {
	i, ok := g.motion.IndexOfTarget(c.Topic)
	if !ok {
		return
	}
	g.motion.LastValue[i] = c.Value
	g.set(g.motion.VirtualTopics[i], c.Value)
	g.evaluateMotion()
}

// evaluateMotion sets motion to true iff a valid sensor exceeds the sensitivity.
// With no valid sensor at all, motion is forced off and the motion control flagged.
func (g *Group) evaluateMotion() {
	present := false
	if g.motion.GroupValid {
		if g.motionFlagged {
			g.motionFlagged = false
			g.set(g.control(ControlMotion).Error(), registry.Text(""))
		}
		for i, v := range g.motion.LastValue {
			if g.motion.Valid[i] && v.Float() > g.sensitivity {
				present = true
				break
			}
		}
	} else if !g.motionFlagged {
		g.motionFlagged = true
		g.set(g.control(ControlMotion).Error(), motionErrorFlag)
		g.logger.Warn().Msg("No trustworthy motion sensor, assuming no motion")
	}

	g.setMotion(present)
}

func (g *Group) setMotion(present bool) {
	if present == g.motionPresent {
		return
	}
	g.motionPresent = present
	g.set(g.control(ControlMotion), registry.Bool(present))
	g.publish(eventbus.EventMotionChanged, map[string]any{"motion": present})

	if present {
		g.onMotionStart()
	} else {
		g.onMotionEnd()
	}
}

func (g *Group) onMotionStart() {
	g.cancelOffTimer()

	if g.stateGroup {
		return
	}
	if v, ok := g.reg.Get(g.control(ControlMotionLightON)); ok && v.Truthy() {
		g.press(sourceMotion)
	}
}

func (g *Group) onMotionEnd() {
	if !g.stateGroup {
		return
	}
	g.armOffTimer()
}

// armOffTimer replaces any pending off-timer with a fresh one.
func (g *Group) armOffTimer() {
	g.cancelOffTimer()

	timeout := g.timeout
	g.offTimer = g.sched.AfterFunc(timeout, func() {
		g.offTimer = nil
		if !g.stateGroup {
			return
		}
		g.logger.Debug().Float64("minutes", timeout.Minutes()).Msg("Switching off after motion timeout")
		g.publish(eventbus.EventTimeoutExpired, map[string]any{"minutes": timeout.Minutes()})
		g.press(sourceTimeout)
	})
}

func (g *Group) cancelOffTimer() {
	if g.offTimer != nil {
		g.offTimer.Stop()
		g.offTimer = nil
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
