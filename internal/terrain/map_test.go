package terrain

import (
	"testing"

	"github.com/fieldmesh/terrafuse/internal/config"
	"github.com/fieldmesh/terrafuse/internal/ingest/receiver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMap() *Map {
	return NewMap(config.EmptyTuningConfig())
}

// S1: single-chunk scan integration dirties exactly its tile and
// produces a height grid with the expected vertex count near the
// integrated point.
func TestIntegrateScanDirtiesContainingTile(t *testing.T) {
	m := newTestMap()
	points := []receiver.LidarPoint{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 1}}

	m.IntegrateScan(points, 1.0)

	updates := m.ConsumeDirtyTiles()
	require.Len(t, updates, 1)
	assert.Equal(t, TileKey{TX: 0, TZ: 0}, updates[0].Key)
	assert.Equal(t, 129, updates[0].N)
}

func TestIntegrateScanSkipsNonFinitePointsWithoutAffectingRest(t *testing.T) {
	m := newTestMap()
	points := []receiver.LidarPoint{
		{X: float32(nanF()), Y: 5, Z: 0},
		{X: 0, Y: 3, Z: 0},
	}

	m.IntegrateScan(points, 1.0)

	y, _, ok := m.GetGroundAt(0, 0)
	require.True(t, ok)
	assert.Equal(t, 3.0, y)
}

func nanF() float64 {
	var zero float64
	return zero / zero
}

// P10: ground query consistency after repeated agree-zone integrations.
func TestGetGroundAtReflectsIntegratedMean(t *testing.T) {
	m := newTestMap()
	for i := 0; i < 10; i++ {
		m.IntegrateScan([]receiver.LidarPoint{{X: 1, Y: 5.0, Z: 1}}, float64(i))
	}

	y, confidence, ok := m.GetGroundAt(1, 1)
	require.True(t, ok)
	assert.InDelta(t, 5.0, y, 0.25)
	assert.Equal(t, 10, confidence)
}

func TestGetGroundAtReturnsFalseForUnobservedArea(t *testing.T) {
	m := newTestMap()
	_, _, ok := m.GetGroundAt(500, 500)
	assert.False(t, ok)
}

// A point on the boundary shared by two adjacent tiles is assigned to
// the eastern one.
func TestIntegrateScanAssignsBoundaryPointToEasternTile(t *testing.T) {
	m := newTestMap()
	tileSize := m.TileSize()

	// A point exactly on the shared boundary between tile (0,0) and
	// tile (1,0) belongs to tile (1,0): tiles include their low edge and
	// exclude their high edge (§4.3.1). Only that tile becomes dirty.
	m.IntegrateScan([]receiver.LidarPoint{{X: float32(tileSize), Y: 9.0, Z: 0.1}}, 1.0)

	updates := m.ConsumeDirtyTiles()
	require.Len(t, updates, 1)
	assert.Equal(t, TileKey{TX: 1, TZ: 0}, updates[0].Key)

	// The tile's own height grid must be internally self-consistent: the
	// point landed inside it, so at least one vertex is VALID.
	anyValid := false
	for _, v := range updates[0].Valid {
		if v {
			anyValid = true
			break
		}
	}
	assert.True(t, anyValid)
}

// S5: a low-confidence cell (n=1 < N_conf) overwritten by a single
// disagreement reports a RemapEvent carrying the pre- and post-remap
// means.
func TestIntegrateScanReportsRemapEvent(t *testing.T) {
	m := newTestMap()
	m.IntegrateScan([]receiver.LidarPoint{{X: 1, Y: 5.0, Z: 1}}, 0.0)

	events := m.IntegrateScan([]receiver.LidarPoint{{X: 1, Y: 6.0, Z: 1}}, 0.5)

	require.Len(t, events, 1)
	assert.Equal(t, TileKey{TX: 0, TZ: 0}, events[0].TileKey)
	assert.Equal(t, 5.0, events[0].PrevMean)
	assert.Equal(t, 6.0, events[0].NewMean)
}

func TestIntegrateScanFirstTouchIsNotARemap(t *testing.T) {
	m := newTestMap()
	events := m.IntegrateScan([]receiver.LidarPoint{{X: 1, Y: 5.0, Z: 1}}, 0.0)
	assert.Empty(t, events)
}

func TestGetStatsCountsTilesAndLeaves(t *testing.T) {
	m := newTestMap()
	m.IntegrateScan([]receiver.LidarPoint{{X: 0, Y: 1, Z: 0}}, 1.0)
	m.IntegrateScan([]receiver.LidarPoint{{X: 100, Y: 1, Z: 100}}, 1.0)

	stats := m.GetStats()
	assert.Equal(t, 2, stats.NumTiles)
	assert.True(t, stats.NumLeaves >= 2)
}
