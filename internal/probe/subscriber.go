package probe

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"iotsentry/internal/config"
	"iotsentry/internal/model"
)

// PacketHandler processes one received packet event.
type PacketHandler func(ev model.PacketEvent)

// Subscriber subscribes to the packet-event subject and hands decoded
// events to a handler.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	log     zerolog.Logger
}

// NewSubscriber connects to NATS and returns a subscriber for the
// configured subject.
func NewSubscriber(cfg config.ProbeConfig, log zerolog.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	l := log.With().Str("component", "probe-subscriber").Logger()
	l.Info().Str("url", cfg.NATSURL).Msg("connected to NATS")
	return &Subscriber{nc: nc, subject: cfg.Subject, log: l}, nil
}

// Start subscribes and begins dispatching events to the handler. Malformed
// messages are logged and skipped.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var ev model.PacketEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode packet event")
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.log.Info().Str("subject", s.subject).Msg("subscribed, waiting for packet events")
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.log.Info().Msg("NATS connection closed")
	}
}
