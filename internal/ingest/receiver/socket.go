package receiver

import (
	"net"
	"time"
)

// UDPSocket abstracts the UDP operations the receiver needs, so tests can
// substitute a fake socket instead of binding a real port.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDPSockets, allowing dependency injection of
// socket creation in tests.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// realUDPSocket wraps *net.UDPConn to implement UDPSocket.
type realUDPSocket struct {
	conn *net.UDPConn
}

func (r *realUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	return r.conn.ReadFromUDP(b)
}

func (r *realUDPSocket) SetReadBuffer(bytes int) error { return r.conn.SetReadBuffer(bytes) }

func (r *realUDPSocket) SetReadDeadline(t time.Time) error { return r.conn.SetReadDeadline(t) }

func (r *realUDPSocket) Close() error { return r.conn.Close() }

func (r *realUDPSocket) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// realUDPSocketFactory creates real OS sockets via net.ListenUDP.
type realUDPSocketFactory struct{}

// NewRealUDPSocketFactory returns a UDPSocketFactory backed by real OS
// sockets.
func NewRealUDPSocketFactory() UDPSocketFactory { return realUDPSocketFactory{} }

func (realUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return &realUDPSocket{conn: conn}, nil
}
