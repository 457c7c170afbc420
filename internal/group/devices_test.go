package group

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry/memory"
)

func assertParallel(t *testing.T, d *Devices) {
	t.Helper()
	n := len(d.Targets)
	assert.Len(t, d.ErrorTopics, n)
	assert.Len(t, d.VirtualTopics, n)
	assert.Len(t, d.LastValue, n)
	assert.Len(t, d.Kinds, n)
	assert.Len(t, d.Valid, n)
}

func TestPopulate(t *testing.T) {
	reg := memory.New()
	reg.AddPhysicalDevice("wb-gpio", relay("IN1", true), sensor("IN2", 12))
	reg.AddPhysicalDevice("wb-mr6c", relay("K1", false))

	d := Populate(reg, "hall", CategoryButton, topics("wb-gpio/IN1", "missing/IN1", "wb-gpio/IN9", "wb-gpio/IN2", "wb-gpio/IN1"))

	assertParallel(t, d)
	require.Equal(t, 2, d.Len())
	assert.True(t, d.Exists())
	assert.True(t, d.GroupValid)

	assert.Equal(t, topics("wb-gpio/IN1", "wb-gpio/IN2"), d.Targets)
	assert.Equal(t, topics("wb-gpio/IN1#error", "wb-gpio/IN2#error"), d.ErrorTopics)
	// Numbering skips the missing topics.
	assert.Equal(t, topics("hall/button_0", "hall/button_1"), d.VirtualTopics)
	assert.Equal(t, []registry.Kind{registry.KindBool, registry.KindNumber}, d.Kinds)
	assert.True(t, d.LastValue[0].Bool)
	assert.Equal(t, 12.0, d.LastValue[1].Num)

	i, ok := d.IndexOfTarget("wb-gpio/IN2")
	require.True(t, ok)
	assert.Equal(t, 1, i)
	i, ok = d.IndexOfError("wb-gpio/IN2#error")
	require.True(t, ok)
	assert.Equal(t, 1, i)
	i, ok = d.IndexOfVirtual("hall/button_0")
	require.True(t, ok)
	assert.Equal(t, 0, i)
	_, ok = d.IndexOfTarget("wb-mr6c/K1")
	assert.False(t, ok)
	assert.Equal(t, "button_1", d.ControlName(1))
}

func TestPopulateEmpty(t *testing.T) {
	d := Populate(memory.New(), "hall", CategoryMotion, nil)

	assertParallel(t, d)
	assert.False(t, d.Exists())
	assert.False(t, d.GroupValid, "an empty group has no valid member")
}

func TestGroupValidityIsAnyValid(t *testing.T) {
	reg := memory.New()
	reg.AddPhysicalDevice("ms", sensor("a", 0), sensor("b", 0), sensor("c", 0))
	d := Populate(reg, "hall", CategoryMotion, topics("ms/a", "ms/b", "ms/c"))

	d.markInvalid(0)
	assert.True(t, d.GroupValid, "one of three invalid")
	d.markInvalid(1)
	assert.True(t, d.GroupValid, "two of three invalid, no majority needed")
	d.markInvalid(2)
	assert.False(t, d.GroupValid, "all invalid")

	assert.True(t, d.markValid(1))
	assert.True(t, d.GroupValid)
	assert.False(t, d.markValid(1))
	assertParallel(t, d)
}

func TestAnyValidOn(t *testing.T) {
	reg := memory.New()
	reg.AddPhysicalDevice("relay", relay("A", true), relay("B", false))
	d := Populate(reg, "hall", CategoryLight, topics("relay/A", "relay/B"))

	assert.True(t, d.AnyValidOn())

	d.markInvalid(0)
	assert.False(t, d.AnyValidOn(), "invalid relay is excluded")

	d.markInvalid(1)
	assert.True(t, d.AnyValidOn(), "with every relay invalid the last known values count")
}

func TestAllExist(t *testing.T) {
	reg := memory.New()
	reg.AddPhysicalDevice("relay", relay("A", false))

	assert.True(t, AllExist(reg, nil))
	assert.True(t, AllExist(reg, topics("relay/A")))
	assert.False(t, AllExist(reg, topics("relay/A", "relay/B")))
	assert.True(t, Exists(reg, "relay/A"))
	assert.False(t, Exists(reg, "other/A"))
}

func TestProberResolvesLateDevices(t *testing.T) {
	reg := memory.New()
	reg.AddPhysicalDevice("relay", relay("A", false))
	p := quickProber(reg)
	p.attempts = 500

	go func() {
		time.Sleep(20 * time.Millisecond)
		reg.AddPhysicalDevice("btn", relay("in1", false))
	}()

	resolved, err := p.Wait(context.Background(), map[Category][]registry.Topic{
		CategoryButton: topics("btn/in1"),
		CategoryLight:  topics("relay/A"),
		CategoryMotion: nil,
	})
	require.NoError(t, err)
	assert.Equal(t, map[Category]bool{CategoryButton: true, CategoryLight: true}, resolved)
}

func TestProberGivesUpAfterBudget(t *testing.T) {
	reg := memory.New()
	reg.AddPhysicalDevice("relay", relay("A", false))
	p := quickProber(reg)

	resolved, err := p.Wait(context.Background(), map[Category][]registry.Topic{
		CategoryButton: topics("btn/in1"),
		CategoryLight:  topics("relay/A"),
	})
	require.NoError(t, err)
	assert.False(t, resolved[CategoryButton])
	assert.True(t, resolved[CategoryLight])
}

func TestProberCancelled(t *testing.T) {
	p := quickProber(memory.New())
	p.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx, map[Category][]registry.Topic{CategoryLight: topics("relay/A")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProberDefaults(t *testing.T) {
	p := NewProber(memory.New())
	assert.Equal(t, 5*time.Second, p.interval)
	assert.Equal(t, 60, p.attempts)
}
