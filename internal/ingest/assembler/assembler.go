package assembler

import (
	"sync"
	"time"

	"github.com/fieldmesh/terrafuse/internal/config"
	"github.com/fieldmesh/terrafuse/internal/ingest/receiver"
	"github.com/fieldmesh/terrafuse/internal/monitoring"
)

// Assembler reconstructs complete scans from chunks delivered by a
// Receiver, keyed by (rover-id, timestamp_sec) (§4.2).
type Assembler struct {
	mu      sync.Mutex
	partial map[scanKey]*partialScan
	done    []CompletedScan
	timeout time.Duration
	hooks   Hooks

	droppedDuplicate  int64
	droppedOutOfRange int64
	droppedConflict   int64
	evictedTimeout    int64
}

// Hooks lets a caller observe the edge cases GetStats/LogStats only
// summarize, for per-event diagnostics (§12). Every field is optional;
// a nil hook is simply not invoked.
type Hooks struct {
	// OnMalformedChunk fires for a chunk whose index or total_chunks
	// disagrees with the partial it would join.
	OnMalformedChunk func(roverID string, now time.Time)
	// OnDuplicateChunk fires when a chunk_index already received for the
	// same scan arrives again.
	OnDuplicateChunk func(roverID string, now time.Time)
	// OnScanTimeout fires once per partial scan evicted by Maintenance.
	OnScanTimeout func(roverID string, now time.Time)
}

// New returns an Assembler whose partial-scan timeout comes from cfg. A
// nil cfg, or one that leaves partial_scan_timeout unset, uses the
// default of 200ms.
func New(cfg *config.TuningConfig) *Assembler {
	timeout := 200 * time.Millisecond
	if cfg != nil {
		timeout = cfg.GetPartialScanTimeout()
	}
	return &Assembler{
		partial: make(map[scanKey]*partialScan),
		timeout: timeout,
	}
}

// SetHooks installs h as the assembler's diagnostic hooks, replacing any
// previously set. Safe to call concurrently with AddChunk/Maintenance.
func (a *Assembler) SetHooks(h Hooks) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = h
}

// AddChunk adds one lidar chunk to its scan's partial, creating the
// partial on first arrival. Malformed chunks (chunk_index out of range,
// duplicate, or conflicting total_chunks) are dropped; the partial is
// left untouched (§4.2).
func (a *Assembler) AddChunk(roverID string, header receiver.LidarChunkHeader, points []receiver.LidarPoint, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := scanKey{roverID: roverID, timestampSec: header.TimestampSec}
	ps, ok := a.partial[key]
	if !ok {
		ps = newPartialScan(now, header.TotalChunks)
		a.partial[key] = ps
	}

	// First observation of total_chunks is authoritative; later chunks
	// disagreeing with it are treated the same as an out-of-range index.
	if header.ChunkIndex >= ps.totalChunks {
		a.droppedOutOfRange++
		if a.hooks.OnMalformedChunk != nil {
			a.hooks.OnMalformedChunk(roverID, now)
		}
		return
	}
	if header.TotalChunks != ps.totalChunks {
		a.droppedConflict++
		if a.hooks.OnMalformedChunk != nil {
			a.hooks.OnMalformedChunk(roverID, now)
		}
		return
	}
	if ps.received[header.ChunkIndex] {
		a.droppedDuplicate++
		if a.hooks.OnDuplicateChunk != nil {
			a.hooks.OnDuplicateChunk(roverID, now)
		}
		return
	}

	ps.received[header.ChunkIndex] = true
	ps.points = append(ps.points, points...)

	if ps.complete() {
		a.done = append(a.done, CompletedScan{
			RoverID:      roverID,
			TimestampSec: header.TimestampSec,
			Points:       ps.points,
		})
		delete(a.partial, key)
	}
}

// RetrieveCompleted moves every CompletedScan accumulated so far out of
// the assembler and returns it to the caller.
func (a *Assembler) RetrieveCompleted() []CompletedScan {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.done) == 0 {
		return nil
	}
	out := a.done
	a.done = nil
	return out
}

// Maintenance evicts every partial scan whose age exceeds the
// configured timeout, discarding it without emitting a CompletedScan
// (§4.2, P2).
func (a *Assembler) Maintenance(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, ps := range a.partial {
		if now.Sub(ps.firstArrival) > a.timeout {
			delete(a.partial, key)
			a.evictedTimeout++
			if a.hooks.OnScanTimeout != nil {
				a.hooks.OnScanTimeout(key.roverID, now)
			}
		}
	}
}

// Stats reports the assembler's edge-case counters for diagnostics.
type Stats struct {
	PendingPartials   int
	DroppedDuplicate  int64
	DroppedOutOfRange int64
	DroppedConflict   int64
	EvictedTimeout    int64
}

// GetStats returns a Stats snapshot.
func (a *Assembler) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		PendingPartials:   len(a.partial),
		DroppedDuplicate:  a.droppedDuplicate,
		DroppedOutOfRange: a.droppedOutOfRange,
		DroppedConflict:   a.droppedConflict,
		EvictedTimeout:    a.evictedTimeout,
	}
}

// LogStats emits a single summary line through the package logger.
func (a *Assembler) LogStats() {
	s := a.GetStats()
	monitoring.Logf("assembler: pending=%d dup=%d out_of_range=%d conflict=%d timed_out=%d",
		s.PendingPartials, s.DroppedDuplicate, s.DroppedOutOfRange, s.DroppedConflict, s.EvictedTimeout)
}
