// Package notify publishes account and transaction change events to NATS
// JetStream for downstream consumers (statements, alerting, audit).
// Publishing happens after the store commit; a failed publish is logged
// and dropped, never rolled into the ledger write.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CoinVault/internal/ledger"
	"CoinVault/internal/observability"
)

const (
	StreamName         = "VAULT_EVENTS"
	accountSubjectFmt  = "vault.accounts.%s"
	txSubjectFmt       = "vault.transactions.%s"
	defaultQueueDepth  = 1024
	defaultEventMaxAge = 72 * time.Hour
)

// AccountEvent is the outbound snapshot of an account after a committed
// change. Holdings carry amounts only; cost basis stays internal.
type AccountEvent struct {
	AccountID   uuid.UUID                  `json:"account_id"`
	CashBalance decimal.Decimal            `json:"cash_balance"`
	Holdings    map[string]decimal.Decimal `json:"holdings"`
	Version     int64                      `json:"version"`
	Timestamp   time.Time                  `json:"timestamp"`
}

// TransactionEvent mirrors one journal row.
type TransactionEvent struct {
	TransactionID  uuid.UUID       `json:"transaction_id"`
	AccountID      uuid.UUID       `json:"account_id"`
	Type           string          `json:"type"`
	CoinID         string          `json:"coin_id"`
	Amount         decimal.Decimal `json:"amount"`
	TotalValue     decimal.Decimal `json:"total_value"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

type outbound struct {
	subject string
	kind    string
	payload any
}

// Publisher drains a bounded queue into JetStream. Enqueue never blocks a
// request path: when the queue is full the event is counted as dropped.
type Publisher struct {
	js      jetstream.JetStream
	queue   chan outbound
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		queue:   make(chan outbound, defaultQueueDepth),
		log:     log,
		metrics: metrics,
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-p.queue:
			if err := p.publish(ctx, evt); err != nil {
				p.log.Warn().Err(err).Str("subject", evt.subject).Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.NotifyDropped.Inc()
				}
			}
		}
	}
}

// AccountChanged enqueues an account snapshot event.
func (p *Publisher) AccountChanged(a *ledger.Account) {
	holdings := make(map[string]decimal.Decimal, len(a.Holdings))
	for id, h := range a.Holdings {
		holdings[id] = h.Amount
	}
	p.enqueue(outbound{
		subject: fmt.Sprintf(accountSubjectFmt, a.ID),
		kind:    "account",
		payload: AccountEvent{
			AccountID:   a.ID,
			CashBalance: a.CashBalance,
			Holdings:    holdings,
			Version:     a.Version,
			Timestamp:   a.UpdatedAt,
		},
	})
}

// TransactionRecorded enqueues a journal row event.
func (p *Publisher) TransactionRecorded(tx *ledger.Transaction) {
	p.enqueue(outbound{
		subject: fmt.Sprintf(txSubjectFmt, tx.AccountID),
		kind:    "transaction",
		payload: TransactionEvent{
			TransactionID:  tx.ID,
			AccountID:      tx.AccountID,
			Type:           string(tx.Type),
			CoinID:         tx.CoinID,
			Amount:         tx.Amount,
			TotalValue:     tx.TotalValue,
			CounterpartyID: tx.CounterpartyID,
			Timestamp:      tx.Timestamp,
		},
	})
}

func (p *Publisher) enqueue(evt outbound) {
	select {
	case p.queue <- evt:
	default:
		if p.metrics != nil {
			p.metrics.NotifyDropped.Inc()
		}
		p.log.Warn().Str("subject", evt.subject).Msg("notify queue full, event dropped")
	}
}

func (p *Publisher) publish(ctx context.Context, evt outbound) error {
	data, err := json.Marshal(evt.payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, evt.subject, data); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.NotifyPublished.WithLabelValues(evt.kind).Inc()
	}
	return nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"vault.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    defaultEventMaxAge,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}
