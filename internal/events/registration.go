package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/service"
)

const (
	// handleTimeout bounds the store work for a single event.
	handleTimeout = 10 * time.Second
	// ackWait must exceed handleTimeout so an event is not redelivered
	// while it is still being handled.
	ackWait    = 30 * time.Second
	fetchBatch = 10
	fetchWait  = 5 * time.Second
)

// SourceNATS is the audit source recorded for event-driven registrations.
const SourceNATS = "nats"

// Registrar marks a contact as converted.
type Registrar interface {
	MarkRegistered(ctx context.Context, email, source string) error
}

// Acknowledger settles a JetStream delivery. *nats.Msg implements it.
type Acknowledger interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// RegistrationEvent is published by the product when a lead signs up.
type RegistrationEvent struct {
	Email string `json:"email"`
}

// RegistrationSubscriber stops the sequence for contacts that registered.
// Events are read from a durable JetStream pull consumer and acknowledged
// only once the registration is stored, so a store outage delays an event
// instead of losing it.
type RegistrationSubscriber struct {
	registrar  Registrar
	retryDelay time.Duration
	sub        *nats.Subscription
	log        *logger.Logger
}

// Connect opens a NATS connection that reconnects forever and logs state changes.
func Connect(url string, log *logger.Logger) (*nats.Conn, error) {
	l := log.WithComponent("nats")
	nc, err := nats.Connect(url,
		nats.Name("dripline"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewRegistrationSubscriber creates a new RegistrationSubscriber.
func NewRegistrationSubscriber(registrar Registrar, retryDelay time.Duration, log *logger.Logger) *RegistrationSubscriber {
	if retryDelay <= 0 {
		retryDelay = 10 * time.Second
	}
	return &RegistrationSubscriber{
		registrar:  registrar,
		retryDelay: retryDelay,
		log:        log.WithComponent("registration_events"),
	}
}

// Start makes sure the stream exists and binds the durable pull consumer.
// Replicas sharing cfg.Durable split the events between them.
func (s *RegistrationSubscriber) Start(nc *nats.Conn, cfg config.NATSConfig) error {
	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to look up stream %s: %w", cfg.Stream, err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.RegisteredSubject},
			Storage:  nats.FileStorage,
		}); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
		}
		s.log.Info().Str("stream", cfg.Stream).Msg("created registration stream")
	}

	sub, err := js.PullSubscribe(cfg.RegisteredSubject, cfg.Durable,
		nats.BindStream(cfg.Stream),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", cfg.RegisteredSubject, err)
	}
	s.sub = sub
	s.log.Info().
		Str("subject", cfg.RegisteredSubject).
		Str("durable", cfg.Durable).
		Msg("listening for registrations")
	return nil
}

// Run fetches and handles events until ctx is done.
func (s *RegistrationSubscriber) Run(ctx context.Context) {
	for ctx.Err() == nil {
		msgs, err := s.sub.Fetch(fetchBatch, nats.MaxWait(fetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			s.log.Warn().Err(err).Msg("failed to fetch registration events")
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			s.Handle(msg.Data, msg)
		}
	}
}

// Stop drains the subscription.
func (s *RegistrationSubscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

// Handle processes one registration event and settles it. Malformed events
// are terminated, unknown contacts are acknowledged, and store failures are
// redelivered after the retry delay.
func (s *RegistrationSubscriber) Handle(data []byte, ack Acknowledger) {
	var event RegistrationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.log.Warn().Err(err).Msg("discarding malformed registration event")
		s.settle(ack.Term())
		return
	}
	if event.Email == "" {
		s.log.Warn().Msg("discarding registration event without email")
		s.settle(ack.Term())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	err := s.registrar.MarkRegistered(ctx, event.Email, SourceNATS)
	switch {
	case errors.Is(err, service.ErrContactNotFound):
		s.log.Debug().Str("contact", event.Email).Msg("registration for unknown contact")
		s.settle(ack.Ack())
	case err != nil:
		s.log.Error().Err(err).Str("contact", event.Email).Dur("retry_in", s.retryDelay).Msg("failed to record registration")
		s.settle(ack.NakWithDelay(s.retryDelay))
	default:
		s.log.Info().Str("contact", event.Email).Msg("registration recorded")
		s.settle(ack.Ack())
	}
}

func (s *RegistrationSubscriber) settle(err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to settle registration event")
	}
}
