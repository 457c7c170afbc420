package group

import (
	"fmt"

	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

// Fixed control names of the aggregate device.
const (
	ControlStateGroup    = "stateGroup"
	ControlButton        = "button"
	ControlQtyLight      = "qtyLight"
	ControlQtyButton     = "qtyButton"
	ControlButtonAlarm   = "ButtonAlarm"
	ControlMotion        = "motion"
	ControlMotionLightON = "motionLightON"
	ControlTimeout       = "timeout"
	ControlSensitivity   = "sensitivity"
)

func (g *Group) provision() error {
	g.logger.Warn().Msg("Lighting group (re)starting")

	if err := g.reg.DefineDevice(g.name, g.title); err != nil {
		return err
	}

	fixed := []registry.Control{
		{Name: ControlStateGroup, Title: "Group state", Type: registry.TypeSwitch, Value: registry.Bool(false), ReadOnly: true},
		{Name: ControlButton, Title: "Toggle group", Type: registry.TypePushbutton, Value: registry.Bool(false)},
		{Name: ControlQtyLight, Title: "Light groups", Type: registry.TypeValue, Value: registry.Number(0), ReadOnly: true},
		{Name: ControlQtyButton, Title: "Switches", Type: registry.TypeValue, Value: registry.Number(0), ReadOnly: true},
	}
	if err := g.addControls(fixed); err != nil {
		return err
	}

	if g.buttons.Exists() {
		for i, t := range g.buttons.Targets {
			c := registry.Control{
				Name:     g.buttons.ControlName(i),
				Title:    t.String(),
				Type:     widgetFor(g.buttons.Kinds[i]),
				Value:    g.buttons.LastValue[i],
				ReadOnly: true,
			}
			if err := g.addMirror(g.buttons, i, c); err != nil {
				return err
			}
		}
	} else {
		alarm := registry.Control{
			Name:     ControlButtonAlarm,
			Title:    "No physical control available",
			Type:     registry.TypeAlarm,
			Value:    registry.Bool(true),
			ReadOnly: true,
		}
		if err := g.addControls([]registry.Control{alarm}); err != nil {
			return err
		}
	}

	for i, t := range g.lights.Targets {
		c := registry.Control{
			Name:  g.lights.ControlName(i),
			Title: t.String(),
			Type:  registry.TypeSwitch,
			Value: registry.Bool(g.lights.LastValue[i].Truthy()),
		}
		if err := g.addMirror(g.lights, i, c); err != nil {
			return err
		}
	}

	g.set(g.control(ControlQtyLight), registry.Number(float64(g.lights.Len())))
	g.set(g.control(ControlQtyButton), registry.Number(float64(g.buttons.Len())))
	g.setStateGroup(g.lights.AnyValidOn())

	if g.motionTracked {
		policy := []registry.Control{
			{Name: ControlMotion, Title: "Presence in zone", Type: registry.TypeSwitch, Value: registry.Bool(false), ReadOnly: true},
			{Name: ControlMotionLightON, Title: "Switch on at motion start", Type: registry.TypeSwitch, Value: registry.Bool(false)},
			{
				Name: ControlTimeout, Title: "Switch-off timeout, min", Type: registry.TypeRange,
				Value: registry.Number(g.timeout.Minutes()), Min: MinTimeoutMinutes, Max: MaxTimeoutMinutes,
			},
			{
				Name: ControlSensitivity, Title: "Sensor sensitivity", Type: registry.TypeRange,
				Value: registry.Number(g.sensitivity), Min: MinSensitivity, Max: MaxSensitivity,
			},
		}
		if err := g.addControls(policy); err != nil {
			return err
		}

		for i, t := range g.motion.Targets {
			c := registry.Control{
				Name:     g.motion.ControlName(i),
				Title:    t.String(),
				Type:     registry.TypeValue,
				Value:    g.motion.LastValue[i],
				ReadOnly: true,
			}
			if err := g.addMirror(g.motion, i, c); err != nil {
				return err
			}
		}
	}

	g.logger.Info().
		Int("buttons", g.buttons.Len()).
		Int("lights", g.lights.Len()).
		Int("motion", g.motion.Len()).
		Bool("master", g.master).
		Bool("on", g.stateGroup).
		Msg("Lighting group created")
	return nil
}

func (g *Group) addControls(controls []registry.Control) error {
	for i, c := range controls {
		if c.Order == 0 {
			c.Order = i + 1
		}
		if err := g.reg.AddControl(g.name, c); err != nil {
			return fmt.Errorf("adding control %s: %w", c.Name, err)
		}
	}
	return nil
}

// addMirror adds the mirror control of device i and seeds its error attribute.
func (g *Group) addMirror(d *Devices, i int, c registry.Control) error {
	if err := g.reg.AddControl(g.name, c); err != nil {
		return fmt.Errorf("adding control %s: %w", c.Name, err)
	}

	errValue, defined := g.reg.Get(d.ErrorTopics[i])
	if !defined {
		return nil
	}
	g.set(d.VirtualTopics[i].Error(), errValue)
	if errValue.Truthy() {
		d.markInvalid(i)
		g.logger.Warn().
			Str("category", string(d.Category)).
			Str("topic", d.Targets[i].String()).
			Str("error", errValue.String()).
			Msg("Device reports an error at startup")
	}
	return nil
}

// widgetFor picks the mirror widget for a physical value kind.
func widgetFor(k registry.Kind) registry.ControlType {
	switch k {
	case registry.KindBool:
		return registry.TypeSwitch
	case registry.KindText:
		return registry.TypeText
	default:
		return registry.TypeValue
	}
}
