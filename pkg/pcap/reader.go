package pcap

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/rs/zerolog"

	"iotsentry/internal/model"
)

// ParsePacket decodes a raw frame and extracts the event fields the
// pipeline needs. Non-IPv4 and non-TCP/UDP packets are rejected.
func ParsePacket(data []byte, ts time.Time) (model.PacketEvent, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	ev := model.PacketEvent{
		Size:      len(data),
		Timestamp: ts,
	}

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return model.PacketEvent{}, fmt.Errorf("not an IPv4 packet")
	}
	ip := l.(*layers.IPv4)
	ev.SrcIP = ip.SrcIP.String()
	ev.DstIP = ip.DstIP.String()

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		ev.DstPort = uint16(tcp.DstPort)
		ev.Protocol = "TCP"
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		ev.DstPort = uint16(udp.DstPort)
		ev.Protocol = "UDP"
	} else {
		return model.PacketEvent{}, fmt.Errorf("not a TCP or UDP packet")
	}

	return ev, nil
}

// Reader replays packet events from a pcap file. It drives the pipeline
// without a live capture collaborator.
type Reader struct {
	handle *pcap.Handle
	log    zerolog.Logger
}

// NewReader opens a pcap file for offline reading.
func NewReader(filePath string, log zerolog.Logger) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filePath, err)
	}
	return &Reader{handle: handle, log: log.With().Str("component", "pcap").Logger()}, nil
}

// Close closes the pcap handle.
func (r *Reader) Close() {
	r.handle.Close()
}

// ReadPackets reads all packets from the file and sends the parsed events
// to the provided channel. It closes the channel when done.
func (r *Reader) ReadPackets(out chan<- model.PacketEvent) {
	defer close(out)

	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range packetSource.Packets() {
		ts := time.Now()
		if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
			ts = meta.Timestamp
		}
		ev, err := ParsePacket(packet.Data(), ts)
		if err != nil {
			// Unsupported packet types are expected in real captures.
			r.log.Debug().Err(err).Msg("skipping packet")
			continue
		}
		out <- ev
	}
}
