// Package transfer moves cash or asset quantity between two accounts in a
// single atomic conditional transaction, with a step-up authorization gate
// for senders that have a second factor enabled.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CoinVault/internal/ledger"
	"CoinVault/internal/observability"
	"CoinVault/internal/store"
)

// maxRetries bounds conflict-abort retries for the two-document transfer
// transaction. Two contended documents conflict more often than one, so
// more attempts are allowed than for single-account trades.
const maxRetries = 5

// Kind selects which balance a transfer moves.
type Kind string

const (
	KindCash  Kind = "cash"
	KindAsset Kind = "asset"
)

// Request describes one transfer. AssetID is required for KindAsset and
// ignored for KindCash.
type Request struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Amount     decimal.Decimal
	Kind       Kind
	AssetID    string
}

// Engine commits transfers. Both account documents and both journal rows
// land in one conditional transaction, so no partial transfer is ever
// visible.
type Engine struct {
	store   store.Store
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewEngine(st store.Store, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{store: st, log: log, metrics: metrics}
}

// Transfer debits the sender and credits the receiver atomically. It
// returns both journal rows, the sender-side withdraw first, so callers can
// surface each leg to its account's observers. Recipient existence and
// balance sufficiency are checked inside the transaction against current
// state.
func (e *Engine) Transfer(ctx context.Context, req Request) (*ledger.Transaction, *ledger.Transaction, error) {
	start := time.Now()

	if !req.Amount.IsPositive() {
		e.reject(req.Kind, "invalid_amount")
		return nil, nil, ledger.ErrInvalidAmount
	}
	if req.Kind == KindAsset && (req.AssetID == "" || req.AssetID == ledger.CashAsset) {
		e.reject(req.Kind, "invalid_asset")
		return nil, nil, ledger.ErrInvalidAmount
	}
	if req.Kind != KindCash && req.Kind != KindAsset {
		e.reject(req.Kind, "invalid_kind")
		return nil, nil, ledger.ErrInvalidAmount
	}
	if req.SenderID == req.ReceiverID {
		e.reject(req.Kind, "self_transfer")
		return nil, nil, ledger.ErrSelfTransfer
	}

	coinID := ledger.CashAsset
	if req.Kind == KindAsset {
		coinID = req.AssetID
	}

	withdraw := ledger.Transaction{
		AccountID:      req.SenderID,
		Type:           ledger.TxWithdraw,
		CoinID:         coinID,
		Amount:         req.Amount,
		TotalValue:     req.Amount,
		CounterpartyID: &req.ReceiverID,
	}
	deposit := ledger.Transaction{
		AccountID:      req.ReceiverID,
		Type:           ledger.TxDeposit,
		CoinID:         coinID,
		Amount:         req.Amount,
		TotalValue:     req.Amount,
		CounterpartyID: &req.SenderID,
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 && e.metrics != nil {
			e.metrics.TransferRetries.Inc()
		}

		err := e.store.RunTransaction(ctx, []uuid.UUID{req.SenderID, req.ReceiverID}, func(txn *store.Txn) error {
			sender, ok := txn.Account(req.SenderID)
			if !ok {
				return store.ErrNotFound
			}
			receiver, ok := txn.Account(req.ReceiverID)
			if !ok {
				return ledger.ErrRecipientNotFound
			}

			var nextSender, nextReceiver *ledger.Account
			var err error
			if req.Kind == KindCash {
				nextSender, err = ledger.ApplyCashDebit(sender, req.Amount)
				if err != nil {
					return err
				}
				nextReceiver, err = ledger.ApplyCashCredit(receiver, req.Amount)
			} else {
				nextSender, err = ledger.ApplyAssetDebit(sender, req.AssetID, req.Amount)
				if err != nil {
					return err
				}
				nextReceiver, err = ledger.ApplyAssetCredit(receiver, req.AssetID, req.Amount)
			}
			if err != nil {
				return err
			}

			txn.Put(nextSender)
			txn.Put(nextReceiver)
			withdraw = txn.Append(withdraw)
			deposit = txn.Append(deposit)
			return nil
		})

		switch {
		case err == nil:
			if e.metrics != nil {
				e.metrics.TransfersCommitted.WithLabelValues(string(req.Kind)).Inc()
				e.metrics.TransferDuration.Observe(time.Since(start).Seconds())
			}
			e.log.Info().
				Str("sender_id", req.SenderID.String()).
				Str("receiver_id", req.ReceiverID.String()).
				Str("kind", string(req.Kind)).
				Str("coin_id", coinID).
				Str("amount", req.Amount.String()).
				Msg("transfer committed")
			return &withdraw, &deposit, nil

		case errors.Is(err, store.ErrConflict):
			if e.metrics != nil {
				e.metrics.StoreConflicts.WithLabelValues("transfer").Inc()
			}
			e.log.Warn().
				Str("sender_id", req.SenderID.String()).
				Int("attempt", attempt+1).
				Msg("transfer transaction conflict, retrying")
			continue

		default:
			e.reject(req.Kind, rejectReason(err))
			return nil, nil, err
		}
	}

	e.reject(req.Kind, "conflict_retries_exhausted")
	return nil, nil, fmt.Errorf("%s transfer: %w", req.Kind, ledger.ErrTransferFailed)
}

func (e *Engine) reject(kind Kind, reason string) {
	if e.metrics != nil {
		e.metrics.TransfersRejected.WithLabelValues(string(kind), reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ledger.ErrRecipientNotFound):
		return "recipient_not_found"
	case errors.Is(err, store.ErrNotFound):
		return "sender_not_found"
	default:
		return "error"
	}
}
