package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"iotsentry/internal/config"
	"iotsentry/internal/engine/bandwidth"
	"iotsentry/internal/model"
	"iotsentry/internal/storage/clickhouse"
	"iotsentry/internal/storage/memory"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := newStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	h := &APIHandler{
		store:    store,
		reporter: bandwidth.New(store, log),
		log:      log.With().Str("component", "api").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/devices", h.listDevices).Methods("GET")
	r.HandleFunc("/api/v1/devices/{id}/flows", h.deviceFlows).Methods("GET")
	r.HandleFunc("/api/v1/alerts", h.listAlerts).Methods("GET")
	r.HandleFunc("/api/v1/alerts/{id}/ack", h.acknowledgeAlert).Methods("POST")
	r.HandleFunc("/api/v1/bandwidth/usage", h.bandwidthUsage).Methods("GET")
	r.HandleFunc("/api/v1/bandwidth/hogs", h.bandwidthHogs).Methods("GET")
	r.HandleFunc("/api/v1/bandwidth/timeline", h.bandwidthTimeline).Methods("GET")
	r.HandleFunc("/api/v1/bandwidth/destinations", h.topDestinations).Methods("GET")
	r.HandleFunc("/api/v1/bandwidth/report", h.bandwidthReport).Methods("GET")
	r.HandleFunc("/api/v1/stats", h.stats).Methods("GET")

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("API server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("API server exited")
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
