// Package receiver parses and delivers datagrams from rover sensor
// streams: pose, lidar-chunk, and telemetry messages (§4.1).
package receiver

import (
	"encoding/binary"
	"fmt"
	"math"
)

// StreamKind identifies one of the three datagram message kinds a rover
// can send.
type StreamKind int

const (
	StreamPose StreamKind = iota
	StreamLidar
	StreamTelemetry
)

func (k StreamKind) String() string {
	switch k {
	case StreamPose:
		return "pose"
	case StreamLidar:
		return "lidar"
	case StreamTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// MaxPointsPerChunk bounds points_in_chunk (§3).
const MaxPointsPerChunk = 100

// poseMessageSize is the fixed wire size of a pose datagram: f64 timestamp
// + 3×f32 position + 3×f32 rotation.
const poseMessageSize = 8 + 3*4 + 3*4 // 32

// lidarHeaderSize is the fixed portion of a lidar datagram before points:
// f64 timestamp + u32 chunk_index + u32 total_chunks + u32 points_in_chunk.
const lidarHeaderSize = 8 + 4 + 4 + 4 // 20

// pointSize is the wire size of one (f32, f32, f32) point.
const pointSize = 3 * 4

// telemetryMessageSize is the fixed wire size of a telemetry datagram:
// f64 timestamp + u8 button_states.
const telemetryMessageSize = 8 + 1 // 9

// LidarPoint is a single point in the shared world frame (§3). Immutable
// after parse.
type LidarPoint struct {
	X, Y, Z float32
}

// Finite reports whether all three coordinates are finite.
func (p LidarPoint) Finite() bool {
	return !math.IsNaN(float64(p.X)) && !math.IsInf(float64(p.X), 0) &&
		!math.IsNaN(float64(p.Y)) && !math.IsInf(float64(p.Y), 0) &&
		!math.IsNaN(float64(p.Z)) && !math.IsInf(float64(p.Z), 0)
}

// PoseSample is a rover pose datagram (§3). Only TimestampSec is consumed
// by the core (to update StreamTimestamps); the rest is passed through.
type PoseSample struct {
	TimestampSec float64
	PosX, PosY, PosZ float32
	RotX, RotY, RotZ float32
}

// LidarChunkHeader describes one lidar-chunk datagram's header (§3).
type LidarChunkHeader struct {
	TimestampSec  float64
	ChunkIndex    uint32
	TotalChunks   uint32
	PointsInChunk uint32
}

// LidarChunk is a fully parsed lidar-chunk datagram.
type LidarChunk struct {
	Header LidarChunkHeader
	Points []LidarPoint
}

// TelemetrySample is a telemetry datagram (§3).
type TelemetrySample struct {
	TimestampSec  float64
	ButtonStates  uint8
}

// MalformedError reports why a datagram was rejected. Per §4.1/§7 this is
// never fatal: the datagram is simply discarded.
type MalformedError struct {
	Kind   StreamKind
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s datagram: %s", e.Kind, e.Reason)
}

// Delivery is the typed result of successfully parsing one datagram.
// Exactly one of Pose, Lidar, Telemetry is non-nil, matching the kind the
// datagram was accepted on.
type Delivery struct {
	Kind      StreamKind
	Pose      *PoseSample
	Lidar     *LidarChunk
	Telemetry *TelemetrySample
}

// parsePose decodes a 32-byte pose datagram (§4.1). All multi-byte fields
// are little-endian.
func parsePose(b []byte) (*PoseSample, error) {
	if len(b) != poseMessageSize {
		return nil, &MalformedError{Kind: StreamPose, Reason: fmt.Sprintf("length %d != %d", len(b), poseMessageSize)}
	}
	p := &PoseSample{
		TimestampSec: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		PosX:         math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		PosY:         math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
		PosZ:         math.Float32frombits(binary.LittleEndian.Uint32(b[16:20])),
		RotX:         math.Float32frombits(binary.LittleEndian.Uint32(b[20:24])),
		RotY:         math.Float32frombits(binary.LittleEndian.Uint32(b[24:28])),
		RotZ:         math.Float32frombits(binary.LittleEndian.Uint32(b[28:32])),
	}
	return p, nil
}

// parseLidarHeader decodes the fixed 20-byte header of a lidar datagram.
func parseLidarHeader(b []byte) (LidarChunkHeader, error) {
	if len(b) < lidarHeaderSize {
		return LidarChunkHeader{}, &MalformedError{Kind: StreamLidar, Reason: fmt.Sprintf("too short for header: %d bytes", len(b))}
	}
	h := LidarChunkHeader{
		TimestampSec:  math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		ChunkIndex:    binary.LittleEndian.Uint32(b[8:12]),
		TotalChunks:   binary.LittleEndian.Uint32(b[12:16]),
		PointsInChunk: binary.LittleEndian.Uint32(b[16:20]),
	}
	return h, nil
}

// parseLidar decodes a full lidar-chunk datagram: header, then
// points_in_chunk × (f32,f32,f32) points (§4.1). The datagram is accepted
// only if its length exactly equals header-size + points_in_chunk·12 and
// the header invariants of §3 hold.
func parseLidar(b []byte) (*LidarChunk, error) {
	h, err := parseLidarHeader(b)
	if err != nil {
		return nil, err
	}
	if h.TotalChunks < 1 {
		return nil, &MalformedError{Kind: StreamLidar, Reason: "total_chunks must be >= 1"}
	}
	if h.ChunkIndex >= h.TotalChunks {
		return nil, &MalformedError{Kind: StreamLidar, Reason: fmt.Sprintf("chunk_index %d >= total_chunks %d", h.ChunkIndex, h.TotalChunks)}
	}
	if h.PointsInChunk > MaxPointsPerChunk {
		return nil, &MalformedError{Kind: StreamLidar, Reason: fmt.Sprintf("points_in_chunk %d exceeds max %d", h.PointsInChunk, MaxPointsPerChunk)}
	}
	wantLen := lidarHeaderSize + int(h.PointsInChunk)*pointSize
	if len(b) != wantLen {
		return nil, &MalformedError{Kind: StreamLidar, Reason: fmt.Sprintf("length %d != expected %d", len(b), wantLen)}
	}

	points := make([]LidarPoint, h.PointsInChunk)
	off := lidarHeaderSize
	for i := range points {
		points[i] = LidarPoint{
			X: math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(b[off+4 : off+8])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(b[off+8 : off+12])),
		}
		off += pointSize
	}
	return &LidarChunk{Header: h, Points: points}, nil
}

// parseTelemetry decodes a 9-byte telemetry datagram (§4.1).
func parseTelemetry(b []byte) (*TelemetrySample, error) {
	if len(b) != telemetryMessageSize {
		return nil, &MalformedError{Kind: StreamTelemetry, Reason: fmt.Sprintf("length %d != %d", len(b), telemetryMessageSize)}
	}
	t := &TelemetrySample{
		TimestampSec: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		ButtonStates: b[8],
	}
	return t, nil
}

// Parse decodes a datagram of the given kind. On success it returns a
// Delivery carrying the typed message; on failure it returns a
// *MalformedError and the caller must discard the datagram without
// advancing any timestamp (§4.1).
func Parse(kind StreamKind, b []byte) (*Delivery, error) {
	switch kind {
	case StreamPose:
		p, err := parsePose(b)
		if err != nil {
			return nil, err
		}
		return &Delivery{Kind: kind, Pose: p}, nil
	case StreamLidar:
		l, err := parseLidar(b)
		if err != nil {
			return nil, err
		}
		return &Delivery{Kind: kind, Lidar: l}, nil
	case StreamTelemetry:
		t, err := parseTelemetry(b)
		if err != nil {
			return nil, err
		}
		return &Delivery{Kind: kind, Telemetry: t}, nil
	default:
		return nil, &MalformedError{Kind: kind, Reason: "unknown stream kind"}
	}
}

// Timestamp returns the embedded timestamp of a successfully parsed
// delivery, used to update StreamTimestamps (§4.1).
func (d *Delivery) Timestamp() float64 {
	switch d.Kind {
	case StreamPose:
		return d.Pose.TimestampSec
	case StreamLidar:
		return d.Lidar.Header.TimestampSec
	case StreamTelemetry:
		return d.Telemetry.TimestampSec
	default:
		return 0
	}
}
