package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fieldmesh/terrafuse/internal/monitoring"
)

// DeliveryFunc receives one successfully parsed datagram from a rover.
type DeliveryFunc func(roverID string, d *Delivery)

// Listener drains one UDP endpoint for one (rover, stream-kind) pair,
// parsing and delivering well-formed datagrams and silently dropping
// malformed ones (§4.1, §7).
type Listener struct {
	roverID string
	kind    StreamKind
	address string
	rcvBuf  int

	connMu sync.RWMutex
	conn   UDPSocket

	socketFactory UDPSocketFactory
	stats         *Stats
	deliver       DeliveryFunc
	timestamps    *StreamTimestampTable
	now           func() time.Time
	onMalformed   func(roverID string, kind StreamKind)
}

// ListenerConfig configures one Listener.
type ListenerConfig struct {
	RoverID       string
	Kind          StreamKind
	Address       string
	RcvBuf        int // OS receive buffer size; 0 leaves the OS default
	Deliver       DeliveryFunc
	Timestamps    *StreamTimestampTable
	SocketFactory UDPSocketFactory // nil uses real UDP sockets
	Now           func() time.Time // nil uses time.Now
	OnMalformed   func(roverID string, kind StreamKind)
}

// NewListener builds a Listener from config, applying sensible defaults
// for anything left unset.
func NewListener(cfg ListenerConfig) *Listener {
	sf := cfg.SocketFactory
	if sf == nil {
		sf = NewRealUDPSocketFactory()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Listener{
		roverID:       cfg.RoverID,
		kind:          cfg.Kind,
		address:       cfg.Address,
		rcvBuf:        cfg.RcvBuf,
		socketFactory: sf,
		stats:         NewStats(cfg.RoverID, cfg.Kind),
		deliver:       cfg.Deliver,
		timestamps:    cfg.Timestamps,
		now:           now,
		onMalformed:   cfg.OnMalformed,
	}
}

// Stats returns this listener's packet counters.
func (l *Listener) Stats() *Stats { return l.stats }

// Start binds the endpoint and drains datagrams until ctx is cancelled or
// the socket is closed. It never blocks the fusion path: each accepted
// datagram is parsed and delivered synchronously within this goroutine,
// which is independent of every other endpoint's goroutine (§5).
func (l *Listener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("resolve udp address %q: %w", l.address, err)
	}
	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp %q: %w", l.address, err)
	}
	l.setConn(conn)
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("receiver[%s/%s]: failed to set recv buffer to %d: %v", l.roverID, l.kind, l.rcvBuf, err)
		}
	}

	monitoring.Logf("receiver[%s/%s]: listening on %s", l.roverID, l.kind, l.address)

	go l.statsLoop(ctx)

	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(l.now().Add(100 * time.Millisecond)); err != nil {
			monitoring.Logf("receiver[%s/%s]: failed to set read deadline: %v", l.roverID, l.kind, err)
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			monitoring.Logf("receiver[%s/%s]: read error: %v", l.roverID, l.kind, err)
			continue
		}

		l.handleDatagram(buf[:n])
	}
}

// handleDatagram parses one datagram and, on success, records its
// timestamp and delivers it; on failure it discards the datagram and
// advances no state (§4.1, §7).
func (l *Listener) handleDatagram(b []byte) {
	delivery, err := Parse(l.kind, b)
	if err != nil {
		l.stats.AddDropped()
		if l.onMalformed != nil {
			l.onMalformed(l.roverID, l.kind)
		}
		return
	}

	l.stats.AddPacket(len(b))
	if l.kind == StreamLidar {
		l.stats.AddPoints(len(delivery.Lidar.Points))
	}

	if l.timestamps != nil {
		l.timestamps.Observe(l.roverID, l.kind, delivery.Timestamp(), l.now())
	}
	if l.deliver != nil {
		l.deliver(l.roverID, delivery)
	}
}

func (l *Listener) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

func (l *Listener) setConn(c UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = c
}

// Close closes the listener's socket, if bound. Safe to call multiple
// times.
func (l *Listener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
