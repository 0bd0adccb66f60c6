package terrain

import "gonum.org/v1/gonum/stat"

// TileUpdate is an exported, uniformly-sampled height grid for one tile
// (§4.3.4, §4.3.5).
type TileUpdate struct {
	Key      TileKey   `json:"key"`
	TileSize float64   `json:"tile_size"`
	N        int       `json:"n"`       // grid side length, 2^D + 1
	Heights  []float32 `json:"heights"` // row-major, grid[j*N+i]; 0.0 where no valid cell exists
	Valid    []bool    `json:"valid"`   // parallel bitset: true where Heights[idx] came from a VALID cell
	// Changed parallels Heights: true where the sampled vertex draws from
	// a leaf carrying ElevCell's FlagChanged, i.e. a leaf that has been
	// initialized or REMAPped at any point. The flag is not cleared on
	// export, so Changed does not distinguish a recent REMAP from one
	// reported in an earlier export.
	Changed []bool `json:"changed"`
}

// buildHeightGrid samples t's quadtree on an N×N grid of world positions
// and fills a TileUpdate (§4.3.4). Vertex (i, j) maps to world position
// x_i = OriginX + i*(TileSize/(N-1)), z_j = OriginZ + j*(TileSize/(N-1)).
func buildHeightGrid(t *Tile) TileUpdate {
	n := gridVertexCount(t.MaxDepth)
	step := t.TileSize / float64(n-1)

	heights := make([]float32, n*n)
	valid := make([]bool, n*n)
	changed := make([]bool, n*n)

	for j := 0; j < n; j++ {
		z := t.OriginZ + float64(j)*step
		for i := 0; i < n; i++ {
			x := t.OriginX + float64(i)*step
			h, ok, chg := sampleCellValue(t, x, z)
			idx := j*n + i
			heights[idx] = float32(h)
			valid[idx] = ok
			changed[idx] = chg
		}
	}

	return TileUpdate{
		Key:      t.Key,
		TileSize: t.TileSize,
		N:        n,
		Heights:  heights,
		Valid:    valid,
		Changed:  changed,
	}
}

// sampleCellValue walks t's quadtree toward (x, z) without mutating it
// and returns the terminal node's representative elevation (§4.3.4): if
// the node the walk terminates on is a leaf, its z_mean when VALID, or
// 0.0 otherwise; if the walk is cut short at an internal node (geometry
// not refined to max depth along this path), the mean of its valid
// descendant leaves, or 0.0 if none are valid. changed reports whether
// any contributing leaf carries FlagChanged.
func sampleCellValue(t *Tile, x, z float64) (value float64, ok, changed bool) {
	node := t.root
	cx := t.OriginX + t.TileSize/2
	cz := t.OriginZ + t.TileSize/2
	half := t.TileSize / 2

	for depth := 0; depth < t.MaxDepth; depth++ {
		if node.isLeaf() {
			return subtreeMean(node)
		}
		idx := childIndex(x, z, cx, cz)
		node = node.children[idx]

		half /= 2
		if x >= cx {
			cx += half
		} else {
			cx -= half
		}
		if z >= cz {
			cz += half
		} else {
			cz -= half
		}
	}
	return subtreeMean(node)
}

// subtreeMean returns node's representative elevation: its own z_mean if
// it is a VALID leaf, or the mean of every VALID leaf reachable beneath
// it otherwise. Returns (0.0, false, false) when no valid cell
// contributes. changed is true if node itself, or any valid leaf beneath
// it, carries FlagChanged.
func subtreeMean(node *quadNode) (value float64, ok, changed bool) {
	if node.isLeaf() {
		if node.cell.Flags.Has(FlagValid) {
			return node.cell.ZMean, true, node.cell.Flags.Has(FlagChanged)
		}
		return 0.0, false, false
	}

	var means []float64
	for _, child := range node.children {
		if v, ok, chg := subtreeMean(child); ok {
			means = append(means, v)
			changed = changed || chg
		}
	}
	if len(means) == 0 {
		return 0.0, false, false
	}
	return stat.Mean(means, nil), true, changed
}
