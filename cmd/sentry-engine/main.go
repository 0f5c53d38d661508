package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"iotsentry/internal/config"
	"iotsentry/internal/engine"
	"iotsentry/internal/geo"
	"iotsentry/internal/model"
	"iotsentry/internal/notification"
	"iotsentry/internal/probe"
	"iotsentry/internal/storage/clickhouse"
	"iotsentry/internal/storage/memory"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("starting sentry-engine")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := newStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	resolver, err := geo.NewResolver(cfg.Geo.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open geolocation database")
	}

	var notifier model.Notifier
	if cfg.SMTP.Host != "" {
		notifier = notification.NewEmailNotifier(cfg.SMTP)
		log.Info().Str("host", cfg.SMTP.Host).Msg("email notifications enabled")
	}

	eng, err := engine.New(cfg, store, resolver, notifier, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}
	eng.Start()

	sub, err := probe.NewSubscriber(cfg.Probe, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	if err := sub.Start(eng.HandlePacket); err != nil {
		log.Fatal().Err(err).Msg("subscriber failed to start")
	}
	log.Info().Str("subject", cfg.Probe.Subject).Msg("listening for packet events")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutdown signal received")
	sub.Close()
	eng.Stop()
	log.Info().Msg("shutdown complete")
}

func newStore(cfg *config.Config, log zerolog.Logger) (model.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		log.Warn().Msg("using in-memory storage, data will not survive restarts")
		return memory.New(), nil
	default:
		return clickhouse.New(cfg.Storage.ClickHouse, log)
	}
}
