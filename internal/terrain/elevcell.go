package terrain

import "time"

// CellFlags records a leaf's lifecycle and export state (§4.3.3).
type CellFlags uint8

const (
	// FlagValid marks a cell that has received at least one point.
	FlagValid CellFlags = 1 << iota
	// FlagDirty marks a cell whose owning tile must be re-exported.
	FlagDirty
	// FlagChanged marks a cell that has been initialized or has
	// undergone a REMAP. Nothing in the core clears it, so it stays set
	// across exports once either event has happened.
	FlagChanged
)

// Has reports whether every bit in mask is set.
func (f CellFlags) Has(mask CellFlags) bool { return f&mask == mask }

// Tuning collects the integration thresholds of §4.3.3 in one value so
// ElevCell.Integrate doesn't need six scalar parameters.
type Tuning struct {
	TauAccept  float64
	TauReplace float64
	TauUpload  float64
	NSat       int
	NConf      int
	K          int
	DtWindow   time.Duration
}

// ElevCell is one quadtree leaf's elevation statistics (§3, §4.3.3).
type ElevCell struct {
	ZMean    float64
	ZVar     float64
	N        int
	PrevMean float64

	DisagreeHits  int
	LastDisagreeTS float64 // scan timestamp (seconds) of the most recent disagree-zone hit

	Flags CellFlags
}

// Integrate folds one point's elevation y into the cell, applying the
// agree/disagree/remap/gray-zone policy of §4.3.3. now is the scan's own
// timestamp (seconds), the same opaque clock the assembler keys scans
// by. It returns true if the tile containing this cell must be marked
// dirty as a result.
func (c *ElevCell) Integrate(y float64, now float64, tuning Tuning) bool {
	if !c.Flags.Has(FlagValid) {
		c.ZMean = y
		c.PrevMean = y
		c.ZVar = 0
		c.N = 1
		c.DisagreeHits = 0
		c.LastDisagreeTS = now
		c.Flags = FlagValid | FlagDirty | FlagChanged
		return true
	}

	dz := y - c.ZMean
	if dz < 0 {
		dz = -dz
	}

	switch {
	case dz <= tuning.TauAccept:
		return c.integrateAgree(y, tuning)
	case dz >= tuning.TauReplace:
		return c.integrateDisagree(y, now, tuning)
	default:
		return c.integrateGrayZone(y, now, tuning)
	}
}

func (c *ElevCell) integrateAgree(y float64, tuning Tuning) bool {
	nSat := tuning.NSat
	if nSat < 1 {
		nSat = 1
	}
	nPrime := c.N + 1
	if nPrime > nSat {
		nPrime = nSat
	}

	zMeanOld := c.ZMean
	c.ZMean = c.ZMean + (y-c.ZMean)/float64(nPrime)
	// Second-moment EMA blended against the pre-update mean (§4.3.3:
	// "z_mean_old" is explicit in the normative update).
	c.ZVar = 0.9*c.ZVar + 0.1*sq(y-zMeanOld)
	c.N = nPrime
	c.DisagreeHits = 0

	dirty := false
	if absf(c.ZMean-c.PrevMean) > tuning.TauUpload {
		c.Flags |= FlagDirty
		c.PrevMean = c.ZMean
		dirty = true
	}
	return dirty
}

func (c *ElevCell) integrateDisagree(y, now float64, tuning Tuning) bool {
	dtWindow := tuning.DtWindow.Seconds()
	if now-c.LastDisagreeTS <= dtWindow {
		c.DisagreeHits++
		if c.DisagreeHits > 255 {
			c.DisagreeHits = 255
		}
	} else {
		c.DisagreeHits = 1
	}
	c.LastDisagreeTS = now

	nConf := tuning.NConf
	k := tuning.K
	if c.N < nConf || c.DisagreeHits >= k {
		c.ZMean = y
		c.PrevMean = y
		c.ZVar = 0
		c.N = 1
		c.DisagreeHits = 0
		c.Flags |= FlagChanged | FlagDirty | FlagValid
		return true
	}
	return false
}

func (c *ElevCell) integrateGrayZone(y, now float64, tuning Tuning) bool {
	c.ZMean = c.ZMean + 0.1*(y-c.ZMean)

	dirty := false
	if absf(c.ZMean-c.PrevMean) > tuning.TauUpload {
		c.Flags |= FlagDirty
		c.PrevMean = c.ZMean
		dirty = true
	}

	dtWindow := tuning.DtWindow.Seconds()
	if now-c.LastDisagreeTS > dtWindow {
		c.DisagreeHits = 0
	}
	return dirty
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sq(v float64) float64 { return v * v }
