package receiver

import (
	"sync/atomic"
	"time"

	"github.com/fieldmesh/terrafuse/internal/monitoring"
)

// Stats tracks per-endpoint packet counters: bytes accepted, malformed
// drops, and delivered points. Observational only — it never gates
// delivery to the assembler or the elevation map.
type Stats struct {
	bytesAccepted int64
	packets       int64
	dropped       int64
	points        int64

	roverID string
	kind    StreamKind
}

// NewStats returns a Stats counter labelled for logging.
func NewStats(roverID string, kind StreamKind) *Stats {
	return &Stats{roverID: roverID, kind: kind}
}

// AddPacket records one accepted datagram of n bytes.
func (s *Stats) AddPacket(n int) {
	atomic.AddInt64(&s.packets, 1)
	atomic.AddInt64(&s.bytesAccepted, int64(n))
}

// AddDropped records one malformed or discarded datagram.
func (s *Stats) AddDropped() {
	atomic.AddInt64(&s.dropped, 1)
}

// AddPoints records points delivered from a successfully parsed lidar
// chunk.
func (s *Stats) AddPoints(n int) {
	atomic.AddInt64(&s.points, int64(n))
}

// LogStats emits a single summary line through the package logger.
func (s *Stats) LogStats() {
	monitoring.Logf("receiver[%s/%s]: packets=%d bytes=%d dropped=%d points=%d",
		s.roverID, s.kind,
		atomic.LoadInt64(&s.packets),
		atomic.LoadInt64(&s.bytesAccepted),
		atomic.LoadInt64(&s.dropped),
		atomic.LoadInt64(&s.points))
}

// Snapshot returns the current counter values for tests and diagnostics.
func (s *Stats) Snapshot() (packets, bytesAccepted, dropped, points int64) {
	return atomic.LoadInt64(&s.packets),
		atomic.LoadInt64(&s.bytesAccepted),
		atomic.LoadInt64(&s.dropped),
		atomic.LoadInt64(&s.points)
}

// statsLogInterval is how often a running Listener logs its Stats.
const statsLogInterval = time.Minute
