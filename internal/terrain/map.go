package terrain

import (
	"math"
	"sync"

	"github.com/fieldmesh/terrafuse/internal/config"
	"github.com/fieldmesh/terrafuse/internal/ingest/receiver"
)

// Map is the persistent 2.5D elevation field (§4.3, §4.4): exclusive
// owner of every tile and its quadtree, keyed by TileKey.
type Map struct {
	mu sync.Mutex

	tileSize           float64
	baseCellResolution float64
	maxDepth           int
	tuning             Tuning

	tiles map[TileKey]*Tile
	// order records first-observation order of tile keys, reused as the
	// round-robin cursor for consume_dirty_tiles_budgeted (§4.3.5, P8).
	order  []TileKey
	cursor int
}

// NewMap constructs an empty elevation map from cfg, falling back to
// spec defaults (§4.3.1, §4.3.3) for any nil configuration.
func NewMap(cfg *config.TuningConfig) *Map {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	tileSize := cfg.GetTileSize()
	baseCellRes := cfg.GetBaseCellResolution()
	return &Map{
		tileSize:           tileSize,
		baseCellResolution: baseCellRes,
		maxDepth:           maxDepthFor(tileSize, baseCellRes),
		tuning: Tuning{
			TauAccept:  cfg.GetTauAccept(),
			TauReplace: cfg.GetTauReplace(),
			TauUpload:  cfg.GetTauUpload(),
			NSat:       cfg.GetNSat(),
			NConf:      cfg.GetNConf(),
			K:          cfg.GetK(),
			DtWindow:   cfg.GetDtWindow(),
		},
		tiles: make(map[TileKey]*Tile),
	}
}

// TileSize returns the configured tile side length in meters.
func (m *Map) TileSize() float64 { return m.tileSize }

// GridVertexCount returns N, the side length of an exported height grid.
func (m *Map) GridVertexCount() int { return gridVertexCount(m.maxDepth) }

// tileFor returns the tile containing world (x, z), creating and
// registering it on first access.
func (m *Map) tileFor(x, z float64) *Tile {
	key := tileKeyFor(x, z, m.tileSize)
	t, ok := m.tiles[key]
	if !ok {
		t = newTile(key, m.tileSize, m.maxDepth)
		m.tiles[key] = t
		m.order = append(m.order, key)
	}
	return t
}

// RemapEvent reports a leaf cell whose representative elevation was
// overwritten by accumulated disagreement rather than nudged toward it
// (§4.3.3's REMAP transition), for diagnostics.
type RemapEvent struct {
	TileKey  TileKey
	PrevMean float64
	NewMean  float64
}

// IntegrateScan folds every point of a completed scan into the map,
// applying the agree/disagree/remap policy of §4.3.3 to each point's
// containing leaf cell. nowSeconds is the scan's own timestamp, the
// opaque clock value the disagree-zone window is measured against.
// Non-finite points are skipped without affecting the rest of the scan
// (§7). It returns one RemapEvent per cell that underwent a REMAP
// during this scan, for the caller to record.
func (m *Map) IntegrateScan(points []receiver.LidarPoint, nowSeconds float64) []RemapEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var remaps []RemapEvent
	for _, p := range points {
		if !finite(p) {
			continue
		}
		if ev, ok := m.integratePoint(p, nowSeconds); ok {
			remaps = append(remaps, ev)
		}
	}
	return remaps
}

func finite(p receiver.LidarPoint) bool {
	return !math.IsNaN(float64(p.X)) && !math.IsInf(float64(p.X), 0) &&
		!math.IsNaN(float64(p.Y)) && !math.IsInf(float64(p.Y), 0) &&
		!math.IsNaN(float64(p.Z)) && !math.IsInf(float64(p.Z), 0)
}

// integratePoint folds one point into its containing leaf and reports
// whether the update was a REMAP: an already-VALID cell whose mean
// jumped by at least tau_replace, rather than being nudged toward the
// new observation (§4.3.3).
func (m *Map) integratePoint(p receiver.LidarPoint, now float64) (RemapEvent, bool) {
	t := m.tileFor(float64(p.X), float64(p.Z))
	leaf := t.locateLeaf(float64(p.X), float64(p.Z))

	wasValid := leaf.cell.Flags.Has(FlagValid)
	prevMean := leaf.cell.ZMean

	if leaf.cell.Integrate(float64(p.Y), now, m.tuning) {
		t.markDirty()
	}

	if wasValid && absf(leaf.cell.ZMean-prevMean) >= m.tuning.TauReplace {
		return RemapEvent{TileKey: t.Key, PrevMean: prevMean, NewMean: leaf.cell.ZMean}, true
	}
	return RemapEvent{}, false
}

// GetGroundAt returns the ground elevation and confidence (observation
// count) at world (x, z), or false if no VALID cell covers that point
// (§4.3.6).
func (m *Map) GetGroundAt(x, z float64) (y float64, confidence int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tileKeyFor(x, z, m.tileSize)
	t, exists := m.tiles[key]
	if !exists {
		return 0, 0, false
	}
	leaf := t.locateLeaf(x, z)
	if !leaf.cell.Flags.Has(FlagValid) {
		return 0, 0, false
	}
	return leaf.cell.ZMean, leaf.cell.N, true
}

// Stats reports map-wide tile and leaf counts (§4.3.7).
type Stats struct {
	NumTiles  int
	NumLeaves int
}

// GetStats returns the current tile and leaf counts. NumLeaves counts
// every leaf node across every tile's quadtree, VALID or not.
func (m *Map) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{NumTiles: len(m.tiles)}
	for _, t := range m.tiles {
		s.NumLeaves += countLeaves(t.root)
	}
	return s
}
