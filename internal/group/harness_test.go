package group

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmithLEDs/wb-buttonLight/internal/eventbus"
	"github.com/SmithLEDs/wb-buttonLight/internal/loop"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
	"github.com/SmithLEDs/wb-buttonLight/internal/registry/memory"
	"github.com/SmithLEDs/wb-buttonLight/internal/storage/kv"
)

// recorder collects published events. Manual scheduling keeps it single-threaded.
type recorder struct {
	events []eventbus.Event
}

func (r *recorder) Publish(e eventbus.Event) {
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t eventbus.EventType) []eventbus.Event {
	var out []eventbus.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	reg    *memory.Registry
	sched  *loop.Manual
	store  *kv.MemoryBucket
	events *recorder
	group  *Group
}

func relay(name string, on bool) registry.Control {
	return registry.Control{Name: name, Type: registry.TypeSwitch, Value: registry.Bool(on)}
}

func sensor(name string, v float64) registry.Control {
	return registry.Control{Name: name, Type: registry.TypeValue, Value: registry.Number(v)}
}

func quickProber(reg registry.Registry) *Prober {
	return &Prober{reg: reg, interval: time.Millisecond, attempts: 3, logger: zerolog.Nop()}
}

// newHarness builds a memory registry, lets setup populate it, then creates the group.
func newHarness(t *testing.T, opts Options, setup func(r *memory.Registry)) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		reg:    memory.New(),
		sched:  loop.NewManual(),
		store:  kv.NewMemoryBucket(opts.Name + "_storage"),
		events: &recorder{},
	}
	if setup != nil {
		setup(h.reg)
	}

	g, err := Create(context.Background(), Deps{
		Registry:  h.reg,
		Scheduler: h.sched,
		Storage:   h.store,
		Events:    h.events,
		Prober:    quickProber(h.reg),
	}, opts)
	require.NoError(t, err)
	h.group = g
	return h
}

// set writes a value as an outside actor would.
func (h *harness) set(topic string, v registry.Value) {
	h.t.Helper()
	require.NoError(h.t, h.reg.Set(registry.Topic(topic), v))
}

func (h *harness) get(topic string) registry.Value {
	h.t.Helper()
	v, ok := h.reg.Get(registry.Topic(topic))
	require.True(h.t, ok, "topic %s not defined", topic)
	return v
}

func (h *harness) assertOn(topic string, want bool) {
	h.t.Helper()
	assert.Equal(h.t, want, h.get(topic).Truthy(), topic)
}

func (h *harness) pressVirtual() {
	h.set("hall/button", registry.Bool(true))
}

func topics(ss ...string) []registry.Topic {
	out := make([]registry.Topic, len(ss))
	for i, s := range ss {
		out[i] = registry.Topic(s)
	}
	return out
}
