package probe

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"iotsentry/internal/config"
	"iotsentry/internal/model"
)

// Publisher publishes packet events to a NATS subject. Events are JSON so
// probes and engines can evolve independently of each other.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewPublisher connects to NATS and returns a publisher for the configured
// subject.
func NewPublisher(cfg config.ProbeConfig, log zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	l := log.With().Str("component", "probe-publisher").Logger()
	l.Info().Str("url", cfg.NATSURL).Msg("connected to NATS")
	return &Publisher{nc: nc, subject: cfg.Subject, log: l}, nil
}

// Publish serializes one packet event and publishes it.
func (p *Publisher) Publish(ev model.PacketEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal packet event: %w", err)
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.log.Info().Msg("NATS connection drained and closed")
	}
}
