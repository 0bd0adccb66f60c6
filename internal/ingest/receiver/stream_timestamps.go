package receiver

import (
	"sync"
	"time"
)

// StreamTimestamps holds the most recently observed embedded timestamp
// for each stream kind of one rover (§3). It is a trailing observability
// signal, not part of fusion correctness.
type StreamTimestamps struct {
	Pose      float64
	Lidar     float64
	Telemetry float64

	// observed at, in wall-clock time, for ROVER_OFFLINE derivation (§5, §7).
	PoseAt      time.Time
	LidarAt     time.Time
	TelemetryAt time.Time
}

// IsOffline reports whether this stream kind's last observation is older
// than threshold relative to now. §5 recommends a 1s threshold on the
// pose stream for caller-visible rover liveness; the core never acts on
// this itself.
func (s StreamTimestamps) IsOffline(kind StreamKind, now time.Time, threshold time.Duration) bool {
	var at time.Time
	switch kind {
	case StreamPose:
		at = s.PoseAt
	case StreamLidar:
		at = s.LidarAt
	case StreamTelemetry:
		at = s.TelemetryAt
	}
	if at.IsZero() {
		return true
	}
	return now.Sub(at) > threshold
}

// StreamTimestampTable is a per-rover table of StreamTimestamps, guarded
// by a single mutex since it is written from receiver goroutines and read
// by callers on other goroutines.
type StreamTimestampTable struct {
	mu    sync.RWMutex
	byRov map[string]StreamTimestamps
}

// NewStreamTimestampTable returns an empty table.
func NewStreamTimestampTable() *StreamTimestampTable {
	return &StreamTimestampTable{byRov: make(map[string]StreamTimestamps)}
}

// Observe records a last-writer-wins timestamp for (roverID, kind) at
// wall-clock time now (§4.1).
func (t *StreamTimestampTable) Observe(roverID string, kind StreamKind, timestampSec float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.byRov[roverID]
	switch kind {
	case StreamPose:
		s.Pose, s.PoseAt = timestampSec, now
	case StreamLidar:
		s.Lidar, s.LidarAt = timestampSec, now
	case StreamTelemetry:
		s.Telemetry, s.TelemetryAt = timestampSec, now
	}
	t.byRov[roverID] = s
}

// Snapshot returns the current StreamTimestamps for roverID.
func (t *StreamTimestampTable) Snapshot(roverID string) StreamTimestamps {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byRov[roverID]
}
