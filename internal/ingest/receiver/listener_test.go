package receiver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket is an in-memory UDPSocket fed from a slice of pre-encoded
// datagrams, for deterministic Listener tests without binding real
// ports.
type fakeSocket struct {
	mu       sync.Mutex
	packets  [][]byte
	closed   bool
	deadline time.Time
}

func newFakeSocket(packets [][]byte) *fakeSocket {
	return &fakeSocket{packets: packets}
}

func (f *fakeSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, nil, net.ErrClosed
	}
	if len(f.packets) == 0 {
		return 0, nil, &net.OpError{Op: "read", Err: timeoutError{}}
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	n := copy(b, p)
	return n, &net.UDPAddr{}, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (f *fakeSocket) SetReadBuffer(int) error            { return nil }
func (f *fakeSocket) SetReadDeadline(t time.Time) error  { f.deadline = t; return nil }
func (f *fakeSocket) LocalAddr() net.Addr                { return &net.UDPAddr{} }
func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeSocketFactory struct {
	sock *fakeSocket
}

func (f *fakeSocketFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) {
	return f.sock, nil
}

func TestListenerDeliversWellFormedPose(t *testing.T) {
	raw := buildPose(1.0, [3]float32{1, 2, 3}, [3]float32{0, 0, 0})
	sock := newFakeSocket([][]byte{raw})
	factory := &fakeSocketFactory{sock: sock}

	var mu sync.Mutex
	var delivered []*Delivery
	ts := NewStreamTimestampTable()

	l := NewListener(ListenerConfig{
		RoverID:       "rover-1",
		Kind:          StreamPose,
		Address:       "127.0.0.1:0",
		Deliver: func(roverID string, d *Delivery) {
			mu.Lock()
			defer mu.Unlock()
			delivered = append(delivered, d)
		},
		Timestamps:    ts,
		SocketFactory: factory,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = l.Start(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, 1.0, delivered[0].Pose.TimestampSec)
	snap := ts.Snapshot("rover-1")
	assert.Equal(t, 1.0, snap.Pose)
}

func TestListenerDropsMalformedWithoutDelivery(t *testing.T) {
	sock := newFakeSocket([][]byte{{0x01, 0x02}}) // too short for pose
	factory := &fakeSocketFactory{sock: sock}

	delivered := 0
	var mu sync.Mutex
	var malformedRover string
	var malformedKind StreamKind
	malformedCalls := 0
	ts := NewStreamTimestampTable()
	l := NewListener(ListenerConfig{
		RoverID:       "rover-1",
		Kind:          StreamPose,
		Address:       "127.0.0.1:0",
		Deliver:       func(string, *Delivery) { delivered++ },
		Timestamps:    ts,
		SocketFactory: factory,
		OnMalformed: func(roverID string, kind StreamKind) {
			mu.Lock()
			defer mu.Unlock()
			malformedRover = roverID
			malformedKind = kind
			malformedCalls++
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = l.Start(ctx)

	assert.Equal(t, 0, delivered)
	packets, _, dropped, _ := l.Stats().Snapshot()
	assert.Equal(t, int64(0), packets)
	assert.Equal(t, int64(1), dropped)
	snap := ts.Snapshot("rover-1")
	assert.True(t, snap.PoseAt.IsZero())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, malformedCalls)
	assert.Equal(t, "rover-1", malformedRover)
	assert.Equal(t, StreamPose, malformedKind)
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	sock := newFakeSocket(nil)
	factory := &fakeSocketFactory{sock: sock}
	l := NewListener(ListenerConfig{
		RoverID:       "rover-1",
		Kind:          StreamTelemetry,
		Address:       "127.0.0.1:0",
		SocketFactory: factory,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after context cancel")
	}
}
