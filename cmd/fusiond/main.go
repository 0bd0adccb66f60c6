// Command fusiond runs the terrain fusion daemon: it receives rover
// pose/lidar/telemetry datagrams over UDP, reassembles lidar scans, folds
// them into the elevation map, and periodically exports dirty tiles
// within a byte budget.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fieldmesh/terrafuse/internal/config"
	"github.com/fieldmesh/terrafuse/internal/diagnostics"
	"github.com/fieldmesh/terrafuse/internal/ingest/assembler"
	"github.com/fieldmesh/terrafuse/internal/ingest/receiver"
	"github.com/fieldmesh/terrafuse/internal/monitoring"
	"github.com/fieldmesh/terrafuse/internal/terrain"
	"github.com/fieldmesh/terrafuse/internal/timeutil"
)

var (
	listenHTTP     = flag.String("listen", ":8080", "HTTP listen address for health check and admin routes")
	roverIDsFlag   = flag.String("rovers", "rover-0", "comma-separated list of rover IDs to listen for")
	bindAddress    = flag.String("bind", "", "UDP bind address (empty binds all interfaces)")
	posePortBase   = flag.Int("pose-port-base", 9000, "base UDP port for pose endpoints, one per rover index")
	lidarPortBase  = flag.Int("lidar-port-base", 10000, "base UDP port for lidar endpoints, one per rover index")
	telemPortBase  = flag.Int("telemetry-port-base", 11000, "base UDP port for telemetry endpoints, one per rover index")
	rcvBuf         = flag.Int("rcvbuf", 1<<20, "UDP receive buffer size in bytes, 0 leaves the OS default")
	dbFile         = flag.String("db", "diagnostics.db", "path to the diagnostics sqlite database, or :memory:")
	configFile     = flag.String("config", "", "path to a tuning overrides JSON file; empty uses compiled-in defaults")
	exportInterval = flag.Duration("export-interval", time.Second, "how often dirty tiles are consumed and exported")
	maintInterval  = flag.Duration("maintenance-interval", 50*time.Millisecond, "how often the assembler evicts timed-out partial scans")
)

const (
	// roverOfflineThreshold follows §5's recommendation: a rover is
	// considered offline once its pose stream has been silent this long.
	roverOfflineThreshold = time.Second
	livenessCheckInterval = 250 * time.Millisecond
)

func main() {
	flag.Parse()

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
		cfg = loaded
	}

	roverIDs := strings.Split(*roverIDsFlag, ",")
	for i := range roverIDs {
		roverIDs[i] = strings.TrimSpace(roverIDs[i])
	}

	store, err := diagnostics.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open diagnostics db: %v", err)
	}
	defer store.Close()

	terrainMap := terrain.NewMap(cfg)
	asm := assembler.New(cfg)
	clock := timeutil.RealClock{}

	asm.SetHooks(assembler.Hooks{
		OnMalformedChunk: func(roverID string, now time.Time) {
			if err := store.RecordEvent(roverID, diagnostics.EventMalformedDatagram, map[string]any{"source": "assembler"}, now); err != nil {
				monitoring.Logf("fusiond: failed to record malformed chunk: %v", err)
			}
		},
		OnDuplicateChunk: func(roverID string, now time.Time) {
			if err := store.RecordEvent(roverID, diagnostics.EventDuplicateChunk, nil, now); err != nil {
				monitoring.Logf("fusiond: failed to record duplicate chunk: %v", err)
			}
		},
		OnScanTimeout: func(roverID string, now time.Time) {
			if err := store.RecordEvent(roverID, diagnostics.EventScanTimeout, nil, now); err != nil {
				monitoring.Logf("fusiond: failed to record scan timeout: %v", err)
			}
		},
	})

	endpoints, err := buildEndpoints(roverIDs, *bindAddress, *posePortBase, *lidarPortBase, *telemPortBase)
	if err != nil {
		log.Fatalf("failed to build endpoints: %v", err)
	}

	callbacks := receiver.Callbacks{
		OnPose: func(roverID string, p *receiver.PoseSample) {
			if err := store.SetRoverOnline(roverID, true, clock.Now()); err != nil {
				monitoring.Logf("fusiond: failed to record rover online: %v", err)
			}
		},
		OnLidar: func(roverID string, c *receiver.LidarChunk) {
			asm.AddChunk(roverID, c.Header, c.Points, clock.Now())
		},
		OnTelemetry: func(roverID string, t *receiver.TelemetrySample) {
			// Telemetry is delivered for stream-timestamp tracking only;
			// the fusion core has no telemetry-specific state.
		},
		OnMalformedDatagram: func(roverID string, kind receiver.StreamKind) {
			if err := store.RecordEvent(roverID, diagnostics.EventMalformedDatagram, map[string]any{"source": "receiver", "stream": kind.String()}, clock.Now()); err != nil {
				monitoring.Logf("fusiond: failed to record malformed datagram: %v", err)
			}
		},
	}

	recv := receiver.NewReceiver(receiver.Config{
		Endpoints: endpoints,
		Callbacks: callbacks,
		RcvBuf:    *rcvBuf,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if err := recv.Start(ctx); err != nil {
		log.Fatalf("failed to start receiver: %v", err)
	}
	defer recv.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runAssemblerLoop(ctx, clock, asm, terrainMap, store, *maintInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runExportLoop(ctx, clock, terrainMap, store, cfg.GetUploadBudgetBytes(), *exportInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runLivenessLoop(ctx, clock, recv, store, roverIDs, livenessCheckInterval, roverOfflineThreshold)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"fusiond","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
	})
	if err := store.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("failed to attach admin routes: %v", err)
	}

	httpServer := &http.Server{Addr: *listenHTTP, Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("fusiond: http listening on %s", *listenHTTP)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("fusiond: http server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("fusiond: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	wg.Wait()
}

// assemblerStatsLogInterval mirrors the receiver listener's own
// statsLogInterval (internal/ingest/receiver/stats.go): summary lines
// belong on a slow cadence, not on every maintenance tick.
const assemblerStatsLogInterval = time.Minute

// runAssemblerLoop drains completed scans into the elevation map,
// recording a diagnostic event for every REMAP the integration triggers,
// periodically evicts timed-out partial scans, and logs a drop-counter
// summary on a slower cadence, until ctx is cancelled. clock is injected
// so the daemon's scheduling, not just its domain logic, can be driven
// by a timeutil.MockClock in tests.
func runAssemblerLoop(ctx context.Context, clock timeutil.Clock, asm *assembler.Assembler, m *terrain.Map, store *diagnostics.Store, maintInterval time.Duration) {
	ticker := clock.NewTicker(maintInterval)
	defer ticker.Stop()
	statsTicker := clock.NewTicker(assemblerStatsLogInterval)
	defer statsTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C():
			asm.LogStats()
		case <-ticker.C():
			for _, scan := range asm.RetrieveCompleted() {
				for _, ev := range m.IntegrateScan(scan.Points, scan.TimestampSec) {
					if err := store.RecordCellRemap(scan.RoverID, ev.TileKey.TX, ev.TileKey.TZ, ev.PrevMean, ev.NewMean, clock.Now()); err != nil {
						monitoring.Logf("fusiond: failed to record cell remap: %v", err)
					}
				}
			}
			asm.Maintenance(clock.Now())
		}
	}
}

// runExportLoop consumes dirty tiles within the configured upload budget
// on a fixed interval and records a diagnostic event per export, until
// ctx is cancelled.
func runExportLoop(ctx context.Context, clock timeutil.Clock, m *terrain.Map, store *diagnostics.Store, uploadBudgetBytes int, interval time.Duration) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			updates := m.ConsumeDirtyTilesBudgeted(uploadBudgetBytes)
			if len(updates) == 0 {
				continue
			}
			totalBytes := 0
			for _, u := range updates {
				totalBytes += len(u.Heights) * 4
			}
			if err := store.RecordDirtyExport("", len(updates), totalBytes, clock.Now()); err != nil {
				monitoring.Logf("fusiond: failed to record dirty export: %v", err)
			}
		}
	}
}

// runLivenessLoop derives ROVER_OFFLINE from pose-stream staleness
// (§5, §7) and records the transition in diagnostics. The fusion core
// never consumes this signal itself; it exists purely for operators.
func runLivenessLoop(ctx context.Context, clock timeutil.Clock, recv *receiver.Receiver, store *diagnostics.Store, roverIDs []string, interval, offlineThreshold time.Duration) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			now := clock.Now()
			for _, id := range roverIDs {
				ts := recv.GetStreamTimestamps(id)
				online := !ts.IsOffline(receiver.StreamPose, now, offlineThreshold)
				if err := store.SetRoverOnline(id, online, now); err != nil {
					monitoring.Logf("fusiond: failed to record rover liveness for %s: %v", id, err)
				}
			}
		}
	}
}

// buildEndpoints allocates one pose, lidar, and telemetry endpoint per
// rover index, following the port convention pose=9000+i, lidar=10000+i,
// telemetry=11000+i.
func buildEndpoints(roverIDs []string, bindAddr string, posePortBase, lidarPortBase, telemPortBase int) ([]receiver.Endpoint, error) {
	var endpoints []receiver.Endpoint
	for i, id := range roverIDs {
		if id == "" {
			return nil, fmt.Errorf("rover id at index %d is empty", i)
		}
		endpoints = append(endpoints,
			receiver.Endpoint{RoverID: id, Kind: receiver.StreamPose, Address: addr(bindAddr, posePortBase+i)},
			receiver.Endpoint{RoverID: id, Kind: receiver.StreamLidar, Address: addr(bindAddr, lidarPortBase+i)},
			receiver.Endpoint{RoverID: id, Kind: receiver.StreamTelemetry, Address: addr(bindAddr, telemPortBase+i)},
		)
	}
	return endpoints, nil
}

func addr(bindAddr string, port int) string {
	return bindAddr + ":" + strconv.Itoa(port)
}
