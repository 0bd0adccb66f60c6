// Package terrain maintains a persistent 2.5D elevation field keyed by
// world (x, z): a quadtree-refined tile grid updated from completed
// lidar scans and exported as bounded-rate height grids (§4.3, §4.4).
package terrain

import (
	"math"
)

// TileKey identifies one tile by its integer grid coordinate.
type TileKey struct {
	TX int32 `json:"tx"`
	TZ int32 `json:"tz"`
}

// Tile is one tile_size × tile_size square of terrain, refined by a
// quadtree of ElevCells down to maxDepth (§4.3.1).
type Tile struct {
	Key      TileKey
	OriginX  float64
	OriginZ  float64
	TileSize float64
	MaxDepth int

	root  *quadNode
	dirty bool
}

// tileKeyFor returns the integer tile coordinate containing world point
// (x, z), per §4.3.1: floor(x/tile_size), floor(z/tile_size).
func tileKeyFor(x, z, tileSize float64) TileKey {
	return TileKey{
		TX: int32(math.Floor(x / tileSize)),
		TZ: int32(math.Floor(z / tileSize)),
	}
}

// newTile allocates an empty tile at key with the given geometry.
func newTile(key TileKey, tileSize float64, maxDepth int) *Tile {
	return &Tile{
		Key:      key,
		OriginX:  float64(key.TX) * tileSize,
		OriginZ:  float64(key.TZ) * tileSize,
		TileSize: tileSize,
		MaxDepth: maxDepth,
		root:     newLeafNode(),
	}
}

// markDirty sets the tile's dirty flag, per §4.4's invariant that any
// cell transition crossing the upload threshold, a REMAP, or an
// initialization must mark the owning tile dirty before integrate
// returns.
func (t *Tile) markDirty() {
	t.dirty = true
}

// maxDepthFor computes D = ceil(log2(tileSize / baseCellResolution))
// (§4.3.1).
func maxDepthFor(tileSize, baseCellResolution float64) int {
	ratio := tileSize / baseCellResolution
	d := int(math.Ceil(math.Log2(ratio)))
	if d < 0 {
		d = 0
	}
	return d
}

// gridVertexCount returns N = 2^D + 1, the side length of the exported
// height grid (§4.3.1, §4.3.4).
func gridVertexCount(maxDepth int) int {
	return (1 << uint(maxDepth)) + 1
}
