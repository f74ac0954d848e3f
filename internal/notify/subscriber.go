package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Connect dials NATS and opens a JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// Subscriber mirrors the latest published account snapshots. Consumers get
// deliver-latest semantics: stale events are superseded by newer ones,
// ordered by the event timestamp.
type Subscriber struct {
	js  jetstream.JetStream
	log zerolog.Logger

	mu      sync.RWMutex
	latest  map[uuid.UUID]AccountEvent
	consume jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:     js,
		log:    log,
		latest: make(map[uuid.UUID]AccountEvent),
	}
}

// Start consumes vault.accounts.> and keeps the freshest snapshot per
// account. Out-of-order deliveries are dropped by timestamp comparison.
func (s *Subscriber) Start(ctx context.Context, consumerName string) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: "vault.accounts.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var evt AccountEvent
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("bad account event")
			msg.Ack()
			return
		}
		s.observe(evt)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	s.consume = cc
	return nil
}

// observe keeps only the freshest snapshot per account.
func (s *Subscriber) observe(evt AccountEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[evt.AccountID]; !ok || evt.Timestamp.After(prev.Timestamp) {
		s.latest[evt.AccountID] = evt
	}
}

// Latest returns the freshest mirrored snapshot for an account, if any has
// arrived.
func (s *Subscriber) Latest(accountID uuid.UUID) (AccountEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.latest[accountID]
	return evt, ok
}

// Stop drains the consumer.
func (s *Subscriber) Stop() {
	if s.consume != nil {
		s.consume.Stop()
	}
}
