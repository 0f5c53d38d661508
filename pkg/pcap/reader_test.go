package pcap

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrame(t *testing.T, transport gopacket.SerializableLayer) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
		DstMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    net.ParseIP("192.168.1.50"),
		DstIP:    net.ParseIP("93.184.216.34"),
	}

	switch l := transport.(type) {
	case *layers.TCP:
		ip.Protocol = layers.IPProtocolTCP
		require.NoError(t, l.SetNetworkLayerForChecksum(ip))
	case *layers.UDP:
		ip.Protocol = layers.IPProtocolUDP
		require.NoError(t, l.SetNetworkLayerForChecksum(ip))
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload([]byte("hello"))))
	return buf.Bytes()
}

func TestParsePacket_TCP(t *testing.T) {
	frame := buildFrame(t, &layers.TCP{SrcPort: 54321, DstPort: 443, SYN: true})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, err := ParsePacket(frame, ts)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", ev.SrcIP)
	assert.Equal(t, "93.184.216.34", ev.DstIP)
	assert.Equal(t, uint16(443), ev.DstPort)
	assert.Equal(t, "TCP", ev.Protocol)
	assert.Equal(t, len(frame), ev.Size)
	assert.Equal(t, ts, ev.Timestamp)
}

func TestParsePacket_UDP(t *testing.T) {
	frame := buildFrame(t, &layers.UDP{SrcPort: 54321, DstPort: 53})

	ev, err := ParsePacket(frame, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint16(53), ev.DstPort)
	assert.Equal(t, "UDP", ev.Protocol)
}

func TestParsePacket_RejectsNonIP(t *testing.T) {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
		SourceProtAddress: []byte{192, 168, 1, 50},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{192, 168, 1, 1},
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))

	_, err := ParsePacket(buf.Bytes(), time.Now())
	assert.Error(t, err)
}
