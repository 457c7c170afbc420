// Package group implements a lighting group: a virtual device aggregating
// physical buttons, relays and motion sensors.
//
// The group mirrors physical state into virtual controls, toggles all relays
// from a single virtual button (optionally remembering which relays were on),
// and switches the group off once motion has been absent for the configured
// timeout. Devices reporting an error are excluded from every decision until
// they recover.
//
// All reactions run serially on the group's loop.Scheduler.
package group

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/loop"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
	"github.com/SmithLEDs/wb-buttonLight/internal/storage/kv"
)

// RecoveryDelay is how long a device must stay free of errors before it is trusted again.
const RecoveryDelay = 2 * time.Second

// Motion policy defaults and ranges.
const (
	DefaultTimeoutMinutes = 10
	DefaultSensitivity    = 35
	MinTimeoutMinutes     = 1
	MaxTimeoutMinutes     = 30
	MinSensitivity        = 1
	MaxSensitivity        = 500
)

var (
	// ErrNoLights is returned when none of the configured relays became available.
	ErrNoLights = errors.New("no light devices available")
	// ErrMissingStorage is returned for a master group without a storage bucket.
	ErrMissingStorage = errors.New("master group requires a storage bucket")
)

// Options describe one lighting group.
type Options struct {
	Title   string
	Name    string
	Buttons []registry.Topic
	Lights  []registry.Topic
	Motion  []registry.Topic
	// Master remembers relay states on switch-off and restores them on switch-on.
	Master bool
}

// Deps are the collaborators of a group.
type Deps struct {
	Registry  registry.Registry
	Scheduler loop.Scheduler
	// Storage keeps relay states of master groups. Required when Options.Master is set.
	Storage kv.Bucket
	// Events receives group transitions. Optional.
	Events eventbus.Publisher
	// Prober gates construction on device availability. Defaults to NewProber(Registry).
	Prober *Prober
}

// Press sources, recorded with every toggle.
const (
	sourceVirtual  = "virtual"
	sourcePhysical = "physical"
	sourceMotion   = "motion"
	sourceTimeout  = "timeout"
)

// Group is a running lighting group. Its state is only touched on the scheduler.
type Group struct {
	title  string
	name   string
	master bool

	reg     registry.Registry
	sched   loop.Scheduler
	storage kv.Bucket
	events  eventbus.Publisher
	logger  zerolog.Logger

	buttons *Devices
	lights  *Devices
	motion  *Devices

	motionTracked bool
	stateGroup    bool
	motionPresent bool
	motionFlagged bool
	timeout       time.Duration
	sensitivity   float64
	offTimer      loop.Handle

	cancels []func()
}

// Create waits for the configured devices, builds the virtual device and
// installs the rules. It blocks while probing; cancel ctx to give up.
func Create(ctx context.Context, deps Deps, opts Options) (*Group, error) {
	if deps.Registry == nil || deps.Scheduler == nil {
		return nil, errors.New("group: registry and scheduler are required")
	}
	if opts.Master && deps.Storage == nil {
		return nil, ErrMissingStorage
	}

	logger := log.With().Str("group", opts.Name).Str("title", opts.Title).Logger()

	prober := deps.Prober
	if prober == nil {
		prober = NewProber(deps.Registry)
	}
	resolved, err := prober.Wait(ctx, map[Category][]registry.Topic{
		CategoryButton: opts.Buttons,
		CategoryLight:  opts.Lights,
		CategoryMotion: opts.Motion,
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for devices: %w", err)
	}
	for cat, ok := range resolved {
		if !ok {
			logger.Warn().Str("category", string(cat)).Msg("Not all devices became available, continuing with those present")
		}
	}

	g := &Group{
		title:         opts.Title,
		name:          opts.Name,
		master:        opts.Master,
		reg:           deps.Registry,
		sched:         deps.Scheduler,
		storage:       deps.Storage,
		events:        deps.Events,
		logger:        logger,
		motionTracked: len(opts.Motion) > 0,
		timeout:       DefaultTimeoutMinutes * time.Minute,
		sensitivity:   DefaultSensitivity,
	}
	g.buttons = Populate(g.reg, g.name, CategoryButton, opts.Buttons)
	g.lights = Populate(g.reg, g.name, CategoryLight, opts.Lights)
	g.motion = Populate(g.reg, g.name, CategoryMotion, opts.Motion)

	if !g.lights.Exists() {
		logger.Error().Int("configured", len(opts.Lights)).Msg("No light devices available, lighting group not created")
		g.publish(eventbus.EventGroupAborted, map[string]any{"reason": ErrNoLights.Error()})
		return nil, fmt.Errorf("%s: %w", opts.Name, ErrNoLights)
	}

	started := make(chan error, 1)
	g.sched.Post(func() { started <- g.start() })
	select {
	case err := <-started:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	g.publish(eventbus.EventGroupCreated, map[string]any{
		"buttons": g.buttons.Len(),
		"lights":  g.lights.Len(),
		"motion":  g.motion.Len(),
		"master":  g.master,
	})
	return g, nil
}

// start provisions the virtual device and installs the rules.
func (g *Group) start() error {
	if err := g.provision(); err != nil {
		return fmt.Errorf("provisioning %s: %w", g.name, err)
	}
	g.installValidityRules()
	g.installSyncRules()
	if g.motionTracked {
		g.installMotionRules()
		g.evaluateMotion()
	}
	return nil
}

// Name returns the virtual device name.
func (g *Group) Name() string {
	return g.name
}

// Status is a point-in-time view of a group.
type Status struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Master        bool   `json:"master"`
	On            bool   `json:"on"`
	Motion        bool   `json:"motion"`
	TimerArmed    bool   `json:"timer_armed"`
	Buttons       int    `json:"buttons"`
	Lights        int    `json:"lights"`
	MotionSensors int    `json:"motion_sensors"`
	LightsValid   bool   `json:"lights_valid"`
	MotionValid   bool   `json:"motion_valid"`
}

// Status reads the group state on its scheduler.
func (g *Group) Status(ctx context.Context) (Status, error) {
	ch := make(chan Status, 1)
	g.sched.Post(func() {
		ch <- Status{
			Name:          g.name,
			Title:         g.title,
			Master:        g.master,
			On:            g.stateGroup,
			Motion:        g.motionPresent,
			TimerArmed:    g.offTimer != nil,
			Buttons:       g.buttons.Len(),
			Lights:        g.lights.Len(),
			MotionSensors: g.motion.Len(),
			LightsValid:   g.lights.GroupValid,
			MotionValid:   g.motion.GroupValid,
		}
	})
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Close removes all subscriptions and cancels pending timers.
func (g *Group) Close() {
	done := make(chan struct{})
	g.sched.Post(func() {
		defer close(done)
		for _, cancel := range g.cancels {
			cancel()
		}
		g.cancels = nil
		g.cancelOffTimer()
		for _, d := range []*Devices{g.buttons, g.lights, g.motion} {
			for i := range d.recovery {
				d.stopRecovery(i)
			}
		}
	})
	<-done
}

// subscribe routes notifications for topics onto the scheduler.
func (g *Group) subscribe(topics []registry.Topic, handler func(registry.Change)) {
	if len(topics) == 0 {
		return
	}
	cancel := g.reg.Subscribe(topics, func(c registry.Change) {
		g.sched.Post(func() { handler(c) })
	})
	g.cancels = append(g.cancels, cancel)
}

// set writes a value and logs failures; reactive paths never abort on write errors.
func (g *Group) set(t registry.Topic, v registry.Value) {
	if err := g.reg.Set(t, v); err != nil {
		g.logger.Warn().Err(err).Str("topic", t.String()).Msg("Failed to write control")
	}
}

func (g *Group) control(name string) registry.Topic {
	return registry.NewTopic(g.name, name)
}

func (g *Group) publish(t eventbus.EventType, data map[string]any) {
	if g.events == nil {
		return
	}
	g.events.Publish(eventbus.Event{Type: t, Group: g.name, Data: data})
}
