package diagnostics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the operational events worth persisting for an
// operator, beyond the pure in-memory fusion path.
type EventKind string

const (
	EventRoverOnline       EventKind = "rover_online"
	EventRoverOffline      EventKind = "rover_offline"
	EventMalformedDatagram EventKind = "malformed_datagram"
	EventDuplicateChunk    EventKind = "duplicate_chunk"
	EventScanTimeout       EventKind = "scan_timeout"
	EventCellRemap         EventKind = "cell_remap"
	EventDirtyExport       EventKind = "dirty_export"
)

// RecordEvent inserts one diagnostic event, stamping it with a fresh
// correlation ID (following the teacher tracking layer's `trk_<uuid>`
// convention, applied here to every row instead of only track IDs).
func (s *Store) RecordEvent(roverID string, kind EventKind, detail map[string]any, now time.Time) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO diagnostic_event (correlation_id, rover_id, kind, detail_json, occurred_at_unix_nanos)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), roverID, string(kind), string(detailJSON), now.UnixNano(),
	)
	return err
}

// RecordCellRemap records a REMAP at the given tile coordinate, with the
// triggering and previous elevations for postmortem analysis.
func (s *Store) RecordCellRemap(roverID string, tileTX, tileTZ int32, prevMean, newMean float64, now time.Time) error {
	detailJSON, err := json.Marshal(map[string]any{"prev_mean": prevMean, "new_mean": newMean})
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO diagnostic_event (correlation_id, rover_id, kind, tile_tx, tile_tz, detail_json, occurred_at_unix_nanos)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), roverID, string(EventCellRemap), tileTX, tileTZ, string(detailJSON), now.UnixNano(),
	)
	return err
}

// RecordDirtyExport records one consume_dirty_tiles(_budgeted) call's
// outcome: how many tiles were exported and their total byte size.
func (s *Store) RecordDirtyExport(roverID string, tileCount, totalBytes int, now time.Time) error {
	detailJSON, err := json.Marshal(map[string]any{"tile_count": tileCount, "total_bytes": totalBytes})
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO diagnostic_event (correlation_id, rover_id, kind, detail_json, occurred_at_unix_nanos)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), roverID, string(EventDirtyExport), string(detailJSON), now.UnixNano(),
	)
	return err
}

// SetRoverOnline upserts rover_liveness and records a transition event
// only when the online state actually changes.
func (s *Store) SetRoverOnline(roverID string, online bool, now time.Time) error {
	var wasOnline nullBool
	err := s.db.QueryRow(`SELECT online FROM rover_liveness WHERE rover_id = ?`, roverID).Scan(&wasOnline.val)
	wasOnline.valid = err == nil

	_, err = s.db.Exec(`
		INSERT INTO rover_liveness (rover_id, online, transitioned_at_unix_nanos)
		VALUES (?, ?, ?)
		ON CONFLICT(rover_id) DO UPDATE SET
			online = excluded.online,
			transitioned_at_unix_nanos = CASE WHEN rover_liveness.online != excluded.online
				THEN excluded.transitioned_at_unix_nanos
				ELSE rover_liveness.transitioned_at_unix_nanos END
	`, roverID, boolToInt(online), now.UnixNano())
	if err != nil {
		return err
	}

	if wasOnline.valid && wasOnline.val == boolToInt(online) {
		return nil // no transition
	}
	kind := EventRoverOffline
	if online {
		kind = EventRoverOnline
	}
	return s.RecordEvent(roverID, kind, nil, now)
}

type nullBool struct {
	val   int
	valid bool
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
