package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/loop"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry/memory"
	"github.com/SmithLEDs/wb-buttonLight/internal/storage/kv"
)

func hallOptions() Options {
	return Options{
		Title:   "Hall",
		Name:    "hall",
		Buttons: topics("btn/in1"),
		Lights:  topics("relayA/on", "relayB/on"),
	}
}

func hallDevices(a, b bool) func(r *memory.Registry) {
	return func(r *memory.Registry) {
		r.AddPhysicalDevice("btn", relay("in1", false))
		r.AddPhysicalDevice("relayA", relay("on", a))
		r.AddPhysicalDevice("relayB", relay("on", b))
	}
}

func TestCreateSingleRelayEndToEnd(t *testing.T) {
	h := newHarness(t, Options{Title: "Hall", Name: "hall", Lights: topics("relayA/on")}, func(r *memory.Registry) {
		r.AddPhysicalDevice("relayA", relay("on", false))
	})

	h.assertOn("hall/stateGroup", false)
	h.pressVirtual()

	h.assertOn("relayA/on", true)
	h.assertOn("hall/stateGroup", true)
	h.assertOn("hall/light_0", true)
}

func TestCreateAbortsWithoutLights(t *testing.T) {
	reg := memory.New()
	reg.AddPhysicalDevice("btn", relay("in1", false))
	events := &recorder{}

	g, err := Create(context.Background(), Deps{
		Registry:  reg,
		Scheduler: loop.NewManual(),
		Events:    events,
		Prober:    quickProber(reg),
	}, Options{Title: "Hall", Name: "hall", Buttons: topics("btn/in1"), Lights: topics("relayA/on")})

	assert.Nil(t, g)
	assert.ErrorIs(t, err, ErrNoLights)
	assert.Empty(t, reg.Controls("hall"), "no virtual device is created")
	assert.Len(t, events.ofType(eventbus.EventGroupAborted), 1)
}

func TestCreateRequiresStorageForMaster(t *testing.T) {
	reg := memory.New()
	_, err := Create(context.Background(), Deps{Registry: reg, Scheduler: loop.NewManual()},
		Options{Name: "hall", Lights: topics("relayA/on"), Master: true})
	assert.ErrorIs(t, err, ErrMissingStorage)
}

func TestCreateProceedsWithPartialDevices(t *testing.T) {
	opts := hallOptions()
	opts.Buttons = topics("btn/in1", "btn/missing")
	opts.Lights = topics("relayA/on", "relayGone/on")

	h := newHarness(t, opts, hallDevices(false, false))

	assert.Equal(t, 1, h.group.lights.Len())
	assert.Equal(t, 1, h.group.buttons.Len())
	assert.Equal(t, 1.0, h.get("hall/qtyLight").Num)
	assert.Equal(t, 1.0, h.get("hall/qtyButton").Num)
}

func TestProvisionControls(t *testing.T) {
	opts := hallOptions()
	opts.Buttons = topics("btn/in1", "btn/level")
	h := newHarness(t, opts, func(r *memory.Registry) {
		hallDevices(true, false)(r)
		r.AddPhysicalDevice("btn", sensor("level", 3))
	})

	assert.ElementsMatch(t, []string{
		"stateGroup", "button", "qtyLight", "qtyButton",
		"button_0", "button_1", "light_0", "light_1",
	}, h.reg.Controls("hall"))

	assert.Equal(t, 2.0, h.get("hall/qtyLight").Num)
	assert.Equal(t, 2.0, h.get("hall/qtyButton").Num)
	h.assertOn("hall/stateGroup", true)
	h.assertOn("hall/light_0", true)
	h.assertOn("hall/light_1", false)

	boolButton, _ := h.reg.Control("hall/button_0")
	assert.Equal(t, registry.TypeSwitch, boolButton.Type)
	assert.True(t, boolButton.ReadOnly)
	assert.Equal(t, "btn/in1", boolButton.Title)

	numButton, _ := h.reg.Control("hall/button_1")
	assert.Equal(t, registry.TypeValue, numButton.Type)
	assert.Equal(t, 3.0, h.get("hall/button_1").Num)

	light, _ := h.reg.Control("hall/light_0")
	assert.False(t, light.ReadOnly)

	button, _ := h.reg.Control("hall/button")
	assert.Equal(t, registry.TypePushbutton, button.Type)

	assert.Len(t, h.events.ofType(eventbus.EventGroupCreated), 1)
}

func TestProvisionButtonAlarmWithoutButtons(t *testing.T) {
	opts := hallOptions()
	opts.Buttons = nil
	h := newHarness(t, opts, hallDevices(false, false))

	alarm, ok := h.reg.Control("hall/ButtonAlarm")
	require.True(t, ok)
	assert.Equal(t, registry.TypeAlarm, alarm.Type)
	h.assertOn("hall/ButtonAlarm", true)
	assert.Equal(t, 0.0, h.get("hall/qtyButton").Num)
}

func TestProvisionSeedsErrors(t *testing.T) {
	h := newHarness(t, hallOptions(), func(r *memory.Registry) {
		hallDevices(false, true)(r)
		require.NoError(t, r.Set("relayB/on#error", registry.Text("r")))
		require.NoError(t, r.Set("relayA/on#error", registry.Text("")))
	})

	assert.Equal(t, "r", h.get("hall/light_1#error").Text)
	assert.Equal(t, "", h.get("hall/light_0#error").Text)
	assert.Equal(t, []bool{true, false}, h.group.lights.Valid)
	// relayB is on but in error, so it does not count.
	h.assertOn("hall/stateGroup", false)

	_, defined := h.reg.Get("hall/button_0#error")
	assert.False(t, defined)
}

func TestVirtualLightWritesRelay(t *testing.T) {
	h := newHarness(t, hallOptions(), hallDevices(false, false))

	h.set("hall/light_1", registry.Bool(true))

	h.assertOn("relayB/on", true)
	h.assertOn("relayA/on", false)
	h.assertOn("hall/stateGroup", true)
}

func TestPhysicalRelayMirrorsAndAggregates(t *testing.T) {
	h := newHarness(t, hallOptions(), hallDevices(false, false))

	h.set("relayA/on", registry.Bool(true))
	h.assertOn("hall/light_0", true)
	h.assertOn("hall/stateGroup", true)

	h.set("relayB/on", registry.Bool(true))
	h.set("relayA/on", registry.Bool(false))
	h.assertOn("hall/stateGroup", true)

	h.set("relayB/on", registry.Bool(false))
	h.assertOn("hall/light_1", false)
	h.assertOn("hall/stateGroup", false)
}

func TestPhysicalButtonTogglesGroup(t *testing.T) {
	h := newHarness(t, hallOptions(), hallDevices(false, false))

	h.set("btn/in1", registry.Bool(true))
	h.assertOn("hall/button_0", true)
	h.assertOn("relayA/on", true)
	h.assertOn("relayB/on", true)

	// Releasing a latching switch is another change and toggles again.
	h.set("btn/in1", registry.Bool(false))
	h.assertOn("hall/button_0", false)
	h.assertOn("relayA/on", false)

	toggles := h.events.ofType(eventbus.EventGroupToggled)
	require.Len(t, toggles, 2)
	assert.Equal(t, "physical", toggles[0].Data["source"])
}

func TestPressSourcesKeptWhenInterleaved(t *testing.T) {
	h := newHarness(t, hallOptions(), hallDevices(false, false))

	var buttonWrites int
	cancel := h.reg.Subscribe(topics("hall/button"), func(registry.Change) { buttonWrites++ })
	defer cancel()

	// Both notifications queue behind the running callback: the physical press
	// is handled first, then the outside write to the virtual button.
	h.sched.Post(func() {
		h.set("btn/in1", registry.Bool(true))
		h.set("hall/button", registry.Bool(true))
	})

	toggles := h.events.ofType(eventbus.EventGroupToggled)
	require.Len(t, toggles, 2)
	assert.Equal(t, "physical", toggles[0].Data["source"])
	assert.Equal(t, "virtual", toggles[1].Data["source"])
	assert.Equal(t, 1, buttonWrites, "a physical press must not write the virtual button")
	h.assertOn("relayA/on", true)
}

func TestToggleNonMasterNegatesGroupState(t *testing.T) {
	h := newHarness(t, hallOptions(), hallDevices(true, false))

	// Group is on because relayA is on: everything goes off.
	h.pressVirtual()
	h.assertOn("relayA/on", false)
	h.assertOn("relayB/on", false)
	h.assertOn("hall/stateGroup", false)

	h.pressVirtual()
	h.assertOn("relayA/on", true)
	h.assertOn("relayB/on", true)

	h.pressVirtual()
	h.pressVirtual()
	h.assertOn("relayA/on", true)
	h.assertOn("relayB/on", true)

	toggles := h.events.ofType(eventbus.EventGroupToggled)
	require.Len(t, toggles, 4)
	assert.Equal(t, "virtual", toggles[0].Data["source"])
	assert.Equal(t, true, toggles[0].Data["was_on"])
}

func TestToggleMasterRoundTrip(t *testing.T) {
	opts := hallOptions()
	opts.Master = true
	h := newHarness(t, opts, hallDevices(true, false))

	h.pressVirtual()
	h.assertOn("relayA/on", false)
	h.assertOn("relayB/on", false)
	h.assertOn("hall/stateGroup", false)

	on, err := kv.GetBool(h.store, "relayA/on")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = kv.GetBool(h.store, "relayB/on")
	require.NoError(t, err)
	assert.False(t, on)

	h.pressVirtual()
	h.assertOn("relayA/on", true)
	h.assertOn("relayB/on", false)
	h.assertOn("hall/stateGroup", true)
}

func TestToggleMasterWithoutMemoryStaysOff(t *testing.T) {
	opts := hallOptions()
	opts.Master = true
	h := newHarness(t, opts, hallDevices(false, false))

	h.pressVirtual()
	h.assertOn("relayA/on", false)
	h.assertOn("relayB/on", false)
	h.assertOn("hall/stateGroup", false)
}

func TestStatusAndClose(t *testing.T) {
	h := newHarness(t, hallOptions(), hallDevices(true, false))

	st, err := h.group.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hall", st.Name)
	assert.True(t, st.On)
	assert.Equal(t, 2, st.Lights)
	assert.Equal(t, 1, st.Buttons)
	assert.True(t, st.LightsValid)
	assert.False(t, st.TimerArmed)

	h.group.Close()
	h.set("relayA/on", registry.Bool(false))
	h.assertOn("hall/light_0", true)
}
