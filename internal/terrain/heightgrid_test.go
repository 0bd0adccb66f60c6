package terrain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHeightGridHasExpectedVertexCount(t *testing.T) {
	tile := newTile(TileKey{}, 32.0, maxDepthFor(32.0, 0.25))
	grid := buildHeightGrid(tile)

	assert.Equal(t, 129, grid.N)
	assert.Len(t, grid.Heights, 129*129)
	assert.Len(t, grid.Valid, 129*129)
}

func TestBuildHeightGridReturnsZeroForUntouchedCells(t *testing.T) {
	tile := newTile(TileKey{}, 32.0, maxDepthFor(32.0, 0.25))
	grid := buildHeightGrid(tile)

	for _, h := range grid.Heights {
		assert.Equal(t, float32(0), h)
	}
	for _, v := range grid.Valid {
		assert.False(t, v)
	}
	for _, c := range grid.Changed {
		assert.False(t, c)
	}
}

// TestBuildHeightGridMarksChangedAfterRemap confirms a leaf's REMAP
// (ElevCell's FlagChanged, elevcell.go) surfaces in the exported grid,
// not just the in-memory cell.
func TestBuildHeightGridMarksChangedAfterRemap(t *testing.T) {
	tile := newTile(TileKey{}, 32.0, maxDepthFor(32.0, 0.25))
	tuning := defaultTuning()
	leaf := tile.locateLeaf(0.1, 0.1)
	for i := 0; i < tuning.NConf; i++ {
		leaf.cell.Integrate(5.0, float64(i), tuning) // confirm the cell, N reaches NConf
	}
	// Initialization also sets FlagChanged; clear it so that only the
	// REMAP below can set it again.
	leaf.cell.Flags &^= FlagChanged

	grid := buildHeightGrid(tile)
	idx := -1
	for i, v := range grid.Valid {
		if v {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.False(t, grid.Changed[idx], "a confirmed cell with no remap should not be marked changed")

	// K consecutive disagree-zone hits within DtWindow forces the REMAP
	// branch (§4.3.3); each disagrees by more than TauReplace.
	for i := 0; i < tuning.K; i++ {
		now := float64(tuning.NConf) + float64(i)*0.1
		leaf.cell.Integrate(5.0+tuning.TauReplace, now, tuning)
	}
	require.True(t, leaf.cell.Flags.Has(FlagChanged), "test setup should have triggered a REMAP")

	grid = buildHeightGrid(tile)
	assert.True(t, grid.Changed[idx], "a remapped cell must surface as Changed in the exported grid")
}

func TestBuildHeightGridReflectsIntegratedLeaf(t *testing.T) {
	tile := newTile(TileKey{}, 32.0, maxDepthFor(32.0, 0.25))
	leaf := tile.locateLeaf(0.1, 0.1)
	leaf.cell.Integrate(3.5, 0.0, defaultTuning())

	grid := buildHeightGrid(tile)

	anyValid := false
	for i, v := range grid.Valid {
		if v {
			anyValid = true
			assert.InDelta(t, 3.5, float64(grid.Heights[i]), 0.3)
		}
	}
	require.True(t, anyValid)
}

// TestBuildHeightGridIsDeterministic rebuilds a grid from an identically
// integrated tile and expects the two TileUpdate values (heights, valid
// bitset, and all scalar fields together) to be byte-for-byte equal; a
// structural diff on mismatch is more useful here than a single failed
// field assertion, since a regression could show up in any vertex.
func TestBuildHeightGridIsDeterministic(t *testing.T) {
	build := func() TileUpdate {
		tile := newTile(TileKey{TX: 2, TZ: -1}, 32.0, maxDepthFor(32.0, 0.25))
		tile.locateLeaf(1.0, 1.0).cell.Integrate(4.2, 0.0, defaultTuning())
		tile.locateLeaf(5.0, 5.0).cell.Integrate(7.8, 0.0, defaultTuning())
		return buildHeightGrid(tile)
	}

	first, second := build(), build()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("grid built twice from identical integrations differs (-first +second):\n%s", diff)
	}
}

func TestSubtreeMeanFallsBackToZeroWhenNoValidLeaves(t *testing.T) {
	node := newLeafNode()
	node.split()
	v, ok, changed := subtreeMean(node)
	assert.False(t, ok)
	assert.False(t, changed)
	assert.Equal(t, 0.0, v)
}

func TestSubtreeMeanAveragesValidDescendants(t *testing.T) {
	node := newLeafNode()
	node.split()
	node.children[0].cell.Integrate(2.0, 0.0, defaultTuning())
	node.children[1].cell.Integrate(4.0, 0.0, defaultTuning())

	v, ok, changed := subtreeMean(node)
	require.True(t, ok)
	assert.True(t, changed, "first touch of a leaf sets FlagChanged")
	assert.Equal(t, 3.0, v)
}
