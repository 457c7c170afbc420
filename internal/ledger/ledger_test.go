package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmithLEDs/wb-buttonLight/internal/db"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndQuery(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.Append(EventGroupCreated, "hall", "", map[string]any{"lights": 2}))
	require.NoError(t, l.Append(EventGroupToggled, "hall", "k1", map[string]any{"source": "virtual"}))
	require.NoError(t, l.Append(EventGroupToggled, "kitchen", "k2", nil))

	entries, err := l.GetByGroup("hall", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventGroupToggled, entries[0].EventType)
	assert.Equal(t, "virtual", entries[0].Payload["source"])
	assert.Equal(t, "k1", entries[0].IdempotencyKey)
	assert.Equal(t, EventGroupCreated, entries[1].EventType)
	assert.Equal(t, float64(2), entries[1].Payload["lights"])

	toggles, err := l.GetByType(EventGroupToggled, 10)
	require.NoError(t, err)
	assert.Len(t, toggles, 2)
	assert.Nil(t, toggles[0].Payload)
}

func TestAppendIdempotent(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.Append(EventTimeoutExpired, "hall", "same", nil))
	require.NoError(t, l.Append(EventTimeoutExpired, "hall", "same", nil))

	entries, err := l.GetByGroup("hall", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeleteOlderThan(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Append(EventDeviceInvalid, "hall", "", nil))

	_, err := l.db.Exec(`UPDATE event_ledger SET timestamp = ?`, time.Now().Add(-48*time.Hour).Unix())
	require.NoError(t, err)
	require.NoError(t, l.Append(EventDeviceRecovered, "hall", "", nil))

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := l.GetByGroup("hall", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventDeviceRecovered, entries[0].EventType)
}
