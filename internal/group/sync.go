package group

import (
	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
	"github.com/SmithLEDs/wb-buttonLight/internal/storage/kv"
)

func (g *Group) installSyncRules() {
	g.subscribe(g.lights.VirtualTopics, g.onLightMirror)
	g.subscribe(g.lights.Targets, g.onLightChange)
	g.subscribe(g.buttons.Targets, g.onButtonChange)
	g.subscribe([]registry.Topic{g.control(ControlButton)}, func(registry.Change) { g.toggle(sourceVirtual) })
}

// onLightMirror forwards a write on a light mirror control to its relay.
func (g *Group) onLightMirror(c registry.Change) {
	i, ok := g.lights.IndexOfVirtual(c.Topic)
	if !ok {
		return
	}
	// Echo of a physical change we mirrored ourselves.
	if c.Value.Truthy() == g.lights.LastValue[i].Truthy() {
		return
	}
	g.set(g.lights.Targets[i], registry.Bool(c.Value.Truthy()))
}

// onLightChange mirrors a relay and re-aggregates the group state.
func (g *Group) onLightChange(c registry.Change) {
	i, ok := g.lights.IndexOfTarget(c.Topic)
	if !ok {
		return
	}
	g.lights.LastValue[i] = c.Value
	g.set(g.lights.VirtualTopics[i], registry.Bool(c.Value.Truthy()))
	g.refreshStateGroup()
}

// onButtonChange mirrors a physical switch and toggles the group if the switch is trusted.
func (g *Group) onButtonChange(c registry.Change) {
	i, ok := g.buttons.IndexOfTarget(c.Topic)
	if !ok {
		return
	}
	g.buttons.LastValue[i] = c.Value
	g.set(g.buttons.VirtualTopics[i], c.Value)

	if !g.buttons.Valid[i] {
		g.logger.Debug().Str("topic", c.Topic.String()).Msg("Ignoring switch in error state")
		return
	}
	g.press(sourcePhysical)
}

// refreshStateGroup recomputes stateGroup from the relays. A switch-on with no
// motion present arms the off-timer, so lights switched on manually still go off.
func (g *Group) refreshStateGroup() {
	next := g.lights.AnyValidOn()
	if g.motionTracked && next && !g.stateGroup && !g.motionPresent {
		g.armOffTimer()
	}
	g.setStateGroup(next)
}

func (g *Group) setStateGroup(on bool) {
	g.stateGroup = on
	g.set(g.control(ControlStateGroup), registry.Bool(on))
}

// press toggles the group on behalf of source. The virtual button is left
// alone, so its subscription only fires for writes from outside the group.
func (g *Group) press(source string) {
	g.toggle(source)
}

// toggle switches every relay. Master groups save relay states before switching
// off and restore them on switch-on; plain groups write the negated group state.
func (g *Group) toggle(source string) {
	wasOn := g.stateGroup
	for i, t := range g.lights.Targets {
		switch {
		case !g.master:
			g.set(t, registry.Bool(!wasOn))
		case wasOn:
			current := g.lights.LastValue[i]
			if v, ok := g.reg.Get(t); ok {
				current = v
			}
			if err := g.storage.Store(t.String(), current.Truthy()); err != nil {
				g.logger.Error().Err(err).Str("topic", t.String()).Msg("Failed to remember relay state")
			}
			g.set(t, registry.Bool(false))
		default:
			on, err := kv.GetBool(g.storage, t.String())
			if err != nil {
				g.logger.Error().Err(err).Str("topic", t.String()).Msg("Failed to recall relay state")
			}
			g.set(t, registry.Bool(on))
		}
	}

	g.logger.Debug().Str("source", source).Bool("was_on", wasOn).Msg("Group toggled")
	g.publish(eventbus.EventGroupToggled, map[string]any{
		"source": source,
		"was_on": wasOn,
		"master": g.master,
	})
}
