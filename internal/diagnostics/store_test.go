package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesMigrations(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.Exec(`SELECT 1 FROM diagnostic_event LIMIT 0`)
	assert.NoError(t, err)
	_, err = store.db.Exec(`SELECT 1 FROM rover_liveness LIMIT 0`)
	assert.NoError(t, err)
}

func TestRecordEventAndCellRemap(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.RecordEvent("rover-1", EventMalformedDatagram, nil, now))
	require.NoError(t, store.RecordCellRemap("rover-1", 1, 2, 5.0, 7.0, now))

	counts, err := store.eventCountsByKind()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[string(EventMalformedDatagram)])
	assert.Equal(t, 1, counts[string(EventCellRemap)])
}

func TestSetRoverOnlineOnlyEmitsTransitionEvents(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.SetRoverOnline("rover-1", true, now))
	require.NoError(t, store.SetRoverOnline("rover-1", true, now.Add(time.Second))) // no transition
	require.NoError(t, store.SetRoverOnline("rover-1", false, now.Add(2*time.Second)))

	counts, err := store.eventCountsByKind()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[string(EventRoverOnline)])
	assert.Equal(t, 1, counts[string(EventRoverOffline)])
}
