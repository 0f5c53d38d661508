package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket"
	gpcap "github.com/google/gopacket/pcap"
	"github.com/rs/zerolog"

	"iotsentry/internal/config"
	"iotsentry/internal/model"
	"iotsentry/internal/probe"
	"iotsentry/pkg/pcap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	iface := flag.String("iface", "", "Interface to capture packets from.")
	file := flag.String("file", "", "Pcap file to replay instead of live capture.")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	pub, err := probe.NewPublisher(cfg.Probe, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer pub.Close()

	switch {
	case *file != "":
		replayFile(*file, pub, log)
	case *iface != "":
		captureLive(*iface, pub, log)
	default:
		fmt.Fprintln(os.Stderr, "either -iface or -file is required")
		flag.Usage()
		os.Exit(1)
	}
}

// replayFile publishes every parseable packet from a capture file, then
// exits.
func replayFile(path string, pub *probe.Publisher, log zerolog.Logger) {
	log.Info().Str("file", path).Msg("replaying pcap file")

	reader, err := pcap.NewReader(path, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open pcap file")
	}
	defer reader.Close()

	events := make(chan model.PacketEvent, 100)
	go reader.ReadPackets(events)

	published := 0
	for ev := range events {
		if err := pub.Publish(ev); err != nil {
			log.Warn().Err(err).Msg("failed to publish packet event")
			continue
		}
		published++
	}
	log.Info().Int("packets", published).Msg("replay complete")
}

// captureLive captures from a network interface until interrupted.
func captureLive(iface string, pub *probe.Publisher, log zerolog.Logger) {
	log.Info().Str("iface", iface).Msg("starting live capture")

	handle, err := gpcap.OpenLive(iface, snapshotLen, promiscuous, gpcap.BlockForever)
	if err != nil {
		log.Fatal().Err(err).Str("iface", iface).Msg("failed to open interface")
	}
	defer handle.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		source := gopacket.NewPacketSource(handle, handle.LinkType())
		published := 0
		for packet := range source.Packets() {
			meta := packet.Metadata()
			ev, err := pcap.ParsePacket(packet.Data(), meta.Timestamp)
			if err != nil {
				continue // non-IP traffic
			}
			if err := pub.Publish(ev); err != nil {
				log.Warn().Err(err).Msg("failed to publish packet event")
				continue
			}
			published++
			if published%1000 == 0 {
				log.Info().Int("packets", published).Msg("publishing packet events")
			}
		}
	}()

	<-sigChan
	log.Info().Msg("shutdown signal received")
}
