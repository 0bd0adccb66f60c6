package receiver

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldmesh/terrafuse/internal/monitoring"
)

// Endpoint binds one rover's one stream kind to a UDP listen address.
type Endpoint struct {
	RoverID string
	Kind    StreamKind
	Address string
}

// Callbacks groups the three per-kind delivery callbacks a Receiver
// invokes as datagrams arrive (§6: "pose/lidar/telemetry callbacks, one
// per kind").
type Callbacks struct {
	OnPose      func(roverID string, p *PoseSample)
	OnLidar     func(roverID string, c *LidarChunk)
	OnTelemetry func(roverID string, t *TelemetrySample)

	// OnMalformedDatagram fires for every datagram a Listener discards
	// during parsing, in addition to (not instead of) the listener's own
	// Stats.dropped counter.
	OnMalformedDatagram func(roverID string, kind StreamKind)
}

// Receiver owns one Listener per configured Endpoint plus the shared
// StreamTimestampTable and CommandSender, and exposes the start/stop and
// send_command surface described in §6.
type Receiver struct {
	listeners  []*Listener
	endpoints  []Endpoint
	timestamps *StreamTimestampTable
	commands   *CommandSender

	rcvBuf        int
	socketFactory UDPSocketFactory

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Receiver.
type Config struct {
	Endpoints     []Endpoint
	Callbacks     Callbacks
	RcvBuf        int
	SocketFactory UDPSocketFactory // nil uses real UDP sockets
	CommandSender *CommandSender   // nil uses NewCommandSender()
}

// NewReceiver builds a Receiver with one Listener per endpoint, routing
// each parsed Delivery to the matching Callbacks field.
func NewReceiver(cfg Config) *Receiver {
	r := &Receiver{
		endpoints:     cfg.Endpoints,
		timestamps:    NewStreamTimestampTable(),
		commands:      cfg.CommandSender,
		rcvBuf:        cfg.RcvBuf,
		socketFactory: cfg.SocketFactory,
	}
	if r.commands == nil {
		r.commands = NewCommandSender()
	}

	deliver := func(roverID string, d *Delivery) {
		switch d.Kind {
		case StreamPose:
			if cfg.Callbacks.OnPose != nil {
				cfg.Callbacks.OnPose(roverID, d.Pose)
			}
		case StreamLidar:
			if cfg.Callbacks.OnLidar != nil {
				cfg.Callbacks.OnLidar(roverID, d.Lidar)
			}
		case StreamTelemetry:
			if cfg.Callbacks.OnTelemetry != nil {
				cfg.Callbacks.OnTelemetry(roverID, d.Telemetry)
			}
		}
	}

	for _, ep := range cfg.Endpoints {
		l := NewListener(ListenerConfig{
			RoverID:       ep.RoverID,
			Kind:          ep.Kind,
			Address:       ep.Address,
			RcvBuf:        cfg.RcvBuf,
			Deliver:       deliver,
			Timestamps:    r.timestamps,
			SocketFactory: cfg.SocketFactory,
			OnMalformed:   cfg.Callbacks.OnMalformedDatagram,
		})
		r.listeners = append(r.listeners, l)
	}
	return r
}

// Start launches all configured listeners, each on its own goroutine
// (§5: endpoints are independent). It returns an error only when two
// endpoints share an address; it does not wait for the listeners to bind.
// A listener that has already exited with an error when Start checks is
// logged; a bind failure after Start returns is not reported.
func (r *Receiver) Start(ctx context.Context) error {
	if err := validateEndpoints(r.endpoints); err != nil {
		return err
	}

	r.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	type bindResult struct {
		l   *Listener
		err error
	}
	results := make(chan bindResult, len(r.listeners))

	for _, l := range r.listeners {
		l := l
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			bound := make(chan error, 1)
			go func() {
				bound <- l.Start(ctx)
			}()
			select {
			case err := <-bound:
				results <- bindResult{l: l, err: err}
			case <-ctx.Done():
			}
		}()
	}

	// Best-effort: report the first failure we see without blocking
	// indefinitely on listeners that are still running cleanly.
	for range r.listeners {
		select {
		case res := <-results:
			if res.err != nil && ctx.Err() == nil {
				monitoring.Logf("receiver: listener for %s/%s exited early: %v", res.l.roverID, res.l.kind, res.err)
			}
		default:
		}
	}
	return nil
}

// Stop cancels every listener's context and waits for their goroutines
// to return.
func (r *Receiver) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, l := range r.listeners {
		l.Close()
	}
	r.wg.Wait()
}

// GetStreamTimestamps returns the current StreamTimestamps snapshot for
// roverID (§4.1).
func (r *Receiver) GetStreamTimestamps(roverID string) StreamTimestamps {
	return r.timestamps.Snapshot(roverID)
}

// SendCommand writes a single command byte to roverID's command
// endpoint, retrying once on I/O failure (§4.1, §7).
func (r *Receiver) SendCommand(roverID string, commandByte byte, endpoint string) error {
	return r.commands.SendCommand(roverID, commandByte, endpoint)
}

// ListenerStats returns the packet counters for a given (roverID, kind)
// endpoint, or nil if no such listener is configured.
func (r *Receiver) ListenerStats(roverID string, kind StreamKind) *Stats {
	for _, l := range r.listeners {
		if l.roverID == roverID && l.kind == kind {
			return l.Stats()
		}
	}
	return nil
}

// validateEndpoints checks that no two endpoints in cfg bind the same
// address, which would make one of them permanently starve the other.
func validateEndpoints(endpoints []Endpoint) error {
	seen := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		if prior, ok := seen[ep.Address]; ok {
			return fmt.Errorf("endpoint address %q used by both %s/%s and %s/%s",
				ep.Address, prior.RoverID, prior.Kind, ep.RoverID, ep.Kind)
		}
		seen[ep.Address] = ep
	}
	return nil
}
