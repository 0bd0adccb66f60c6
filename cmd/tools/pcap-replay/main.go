// Command pcap-replay captures rover UDP traffic to a pcap file and
// replays a pcap file back onto the wire at its original timing, for
// reproducing a field session against a local fusiond.
//
// Usage:
//
//	pcap-replay capture -listen :10000 -out scan.pcap
//	pcap-replay replay -in scan.pcap -target 127.0.0.1:10000 -speed 1.0
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "capture":
		runCapture(os.Args[2:])
	case "replay":
		runReplay(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pcap-replay <capture|replay> [flags]")
}

func runCapture(args []string) {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	listenAddr := fs.String("listen", ":10000", "UDP address to capture datagrams from")
	outPath := fs.String("out", "capture.pcap", "output pcap file path")
	maxPackets := fs.Int("max-packets", 0, "stop after this many packets (0 = unbounded)")
	fs.Parse(args)

	addr, err := net.ResolveUDPAddr("udp", *listenAddr)
	if err != nil {
		log.Fatalf("resolve %q: %v", *listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.Fatalf("listen %q: %v", *listenAddr, err)
	}
	defer conn.Close()

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("create %q: %v", *outPath, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("write pcap header: %v", err)
	}

	log.Printf("pcap-replay: capturing %s to %s", *listenAddr, *outPath)

	buf := make([]byte, 65536)
	count := 0
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("pcap-replay: read error: %v", err)
			continue
		}
		if err := writePacket(w, from, addr, buf[:n]); err != nil {
			log.Printf("pcap-replay: write packet: %v", err)
			continue
		}
		count++
		if *maxPackets > 0 && count >= *maxPackets {
			log.Printf("pcap-replay: reached max-packets=%d, stopping", *maxPackets)
			return
		}
	}
}

// writePacket wraps one UDP payload in a synthetic Ethernet/IPv4/UDP
// frame and appends it to w, since pcap files are link-layer captures
// and the fusiond receiver itself never sees link-layer framing.
func writePacket(w *pcapgo.Writer, from, to *net.UDPAddr, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    fromIP(from),
		DstIP:    fromIP(to),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(from.Port),
		DstPort: layers.UDPPort(to.Port),
	}
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize layers: %w", err)
	}

	return w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}, buf.Bytes())
}

func fromIP(a *net.UDPAddr) net.IP {
	if a == nil || a.IP == nil {
		return net.IPv4(127, 0, 0, 1)
	}
	if v4 := a.IP.To4(); v4 != nil {
		return v4
	}
	return net.IPv4(127, 0, 0, 1)
}

func runReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	inPath := fs.String("in", "capture.pcap", "input pcap file path")
	target := fs.String("target", "127.0.0.1:10000", "UDP address to replay datagrams to")
	speed := fs.Float64("speed", 1.0, "replay speed multiplier (1.0 = real-time, 0 = as fast as possible)")
	fs.Parse(args)

	f, err := os.Open(*inPath)
	if err != nil {
		log.Fatalf("open %q: %v", *inPath, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		log.Fatalf("read pcap header: %v", err)
	}

	targetAddr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("resolve %q: %v", *target, err)
	}
	conn, err := net.DialUDP("udp", nil, targetAddr)
	if err != nil {
		log.Fatalf("dial %q: %v", *target, err)
	}
	defer conn.Close()

	log.Printf("pcap-replay: replaying %s to %s at %.1fx", *inPath, *target, *speed)

	packetSource := gopacket.NewPacketSource(r, r.LinkType())
	var lastCapture time.Time
	count := 0
	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		capture := packet.Metadata().Timestamp
		if *speed > 0 && !lastCapture.IsZero() {
			delay := capture.Sub(lastCapture)
			time.Sleep(time.Duration(float64(delay) / *speed))
		}
		lastCapture = capture

		if _, err := conn.Write(udp.Payload); err != nil {
			log.Printf("pcap-replay: send error: %v", err)
			continue
		}
		count++
	}
	log.Printf("pcap-replay: replayed %d datagrams", count)
}
