// Package assembler reconstructs complete lidar scans from the chunks a
// Receiver delivers, dropping scans that never complete within the
// partial-scan timeout (§4.2).
package assembler

import (
	"time"

	"github.com/fieldmesh/terrafuse/internal/ingest/receiver"
)

// scanKey identifies one in-flight scan. Timestamps compare by exact bit
// equality: the sender-supplied value is opaque and is the scan
// identifier, not a quantity to be compared with tolerance.
type scanKey struct {
	roverID      string
	timestampSec float64
}

// partialScan accumulates chunks for one scanKey until every chunk index
// has arrived or the scan times out.
type partialScan struct {
	firstArrival time.Time
	totalChunks  uint32
	received     []bool
	points       []receiver.LidarPoint
}

func newPartialScan(now time.Time, totalChunks uint32) *partialScan {
	return &partialScan{
		firstArrival: now,
		totalChunks:  totalChunks,
		received:     make([]bool, totalChunks),
		points:       make([]receiver.LidarPoint, 0, int(totalChunks)*receiver.MaxPointsPerChunk),
	}
}

func (p *partialScan) complete() bool {
	for _, got := range p.received {
		if !got {
			return false
		}
	}
	return true
}

// CompletedScan is a fully reassembled scan, ready for integration into
// the elevation map. Points appear in the order their bearing chunks
// were accepted, not sorted by chunk_index (§4.2).
type CompletedScan struct {
	RoverID      string
	TimestampSec float64
	Points       []receiver.LidarPoint
}
