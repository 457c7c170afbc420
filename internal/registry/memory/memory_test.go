package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmithLEDs/wb-buttonLight/internal/registry"
)

func newRelayRegistry() *Registry {
	r := New()
	r.AddPhysicalDevice("relay",
		registry.Control{Name: "K1", Type: registry.TypeSwitch, Value: registry.Bool(false)},
	)
	return r
}

func TestExists(t *testing.T) {
	r := newRelayRegistry()

	assert.True(t, r.Exists("relay/K1"))
	assert.True(t, r.Exists("relay/K1#error"))
	assert.False(t, r.Exists("relay/K2"))
	assert.False(t, r.Exists("other/K1"))
}

func TestSetNotifiesOnChangeOnly(t *testing.T) {
	r := newRelayRegistry()

	var got []registry.Change
	cancel := r.Subscribe([]registry.Topic{"relay/K1"}, func(c registry.Change) {
		got = append(got, c)
	})

	require.NoError(t, r.Set("relay/K1", registry.Bool(true)))
	require.NoError(t, r.Set("relay/K1", registry.Bool(true)))
	require.Len(t, got, 1)
	assert.True(t, got[0].Value.Bool)

	cancel()
	require.NoError(t, r.Set("relay/K1", registry.Bool(false)))
	assert.Len(t, got, 1)
}

func TestPushbuttonAlwaysNotifies(t *testing.T) {
	r := New()
	require.NoError(t, r.DefineDevice("hall", "Hall"))
	require.NoError(t, r.AddControl("hall", registry.Control{Name: "button", Type: registry.TypePushbutton}))

	count := 0
	r.Subscribe([]registry.Topic{"hall/button"}, func(registry.Change) { count++ })

	require.NoError(t, r.Set("hall/button", registry.Bool(true)))
	require.NoError(t, r.Set("hall/button", registry.Bool(true)))
	assert.Equal(t, 2, count)
}

func TestErrorAttribute(t *testing.T) {
	r := newRelayRegistry()

	_, ok := r.Get("relay/K1#error")
	assert.False(t, ok, "error attribute undefined until set")

	var got []registry.Change
	r.Subscribe([]registry.Topic{"relay/K1#error"}, func(c registry.Change) {
		got = append(got, c)
	})

	require.NoError(t, r.Set("relay/K1#error", registry.Text("r")))
	v, ok := r.Get("relay/K1#error")
	require.True(t, ok)
	assert.Equal(t, "r", v.Text)
	require.Len(t, got, 1)

	// The value itself is untouched.
	val, _ := r.Get("relay/K1")
	assert.False(t, val.Bool)
}

func TestSetUnknownTopic(t *testing.T) {
	r := New()
	err := r.Set("nope/K1", registry.Bool(true))
	assert.ErrorIs(t, err, registry.ErrUnknownTopic)
}

func TestDefineDeviceAndControls(t *testing.T) {
	r := newRelayRegistry()

	require.NoError(t, r.DefineDevice("group", "Group"))
	assert.ErrorIs(t, r.DefineDevice("group", "Again"), registry.ErrDeviceExists)

	require.NoError(t, r.AddControl("group", registry.Control{Name: "qtyLight", Type: registry.TypeValue, Value: registry.Number(2)}))
	assert.ErrorIs(t, r.AddControl("group", registry.Control{Name: "qtyLight"}), registry.ErrControlExists)
	assert.ErrorIs(t, r.AddControl("missing", registry.Control{Name: "x"}), registry.ErrUnknownDevice)
	assert.ErrorIs(t, r.AddControl("relay", registry.Control{Name: "x"}), registry.ErrNotOwnedDevice)

	v, ok := r.Get("group/qtyLight")
	require.True(t, ok)
	assert.Equal(t, 2.0, v.Num)

	meta, ok := r.Control("group/qtyLight")
	require.True(t, ok)
	assert.Equal(t, registry.TypeValue, meta.Type)
	assert.ElementsMatch(t, []string{"qtyLight"}, r.Controls("group"))
}
