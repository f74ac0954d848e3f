// Package trade orchestrates single-account buys and sells against the
// ledger state model and persists the result plus one transaction row.
package trade

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

// maxRetries bounds conflict-abort retries for the single-document trade
// transaction.
const maxRetries = 3

// Executor runs buy/sell operations. Every mutation goes through the
// store's conditional-transaction primitive; there is no unconditional
// read-modify-write under concurrent trades on one account.
type Executor struct {
	store   store.Store
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewExecutor(st store.Store, log zerolog.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{store: st, log: log, metrics: metrics}
}

// Buy purchases qty units of assetID at price, debiting cash and
// recomputing the holding's cost basis. Returns the appended transaction
// row. Validation happens before any state read; on failure nothing is
// written.
func (e *Executor) Buy(ctx context.Context, accountID uuid.UUID, assetID string, qty, price decimal.Decimal) (*ledger.Transaction, error) {
	return e.execute(ctx, accountID, assetID, qty, price, ledger.TxBuy)
}

// Sell is the symmetric operation: credits cash, reduces the holding, and
// prunes it when exhausted.
func (e *Executor) Sell(ctx context.Context, accountID uuid.UUID, assetID string, qty, price decimal.Decimal) (*ledger.Transaction, error) {
	return e.execute(ctx, accountID, assetID, qty, price, ledger.TxSell)
}

func (e *Executor) execute(ctx context.Context, accountID uuid.UUID, assetID string, qty, price decimal.Decimal, side ledger.TxType) (*ledger.Transaction, error) {
	start := time.Now()

	// Reject before touching state.
	if !qty.IsPositive() || !price.IsPositive() {
		e.reject(side, "invalid_amount")
		return nil, ledger.ErrInvalidAmount
	}
	if assetID == "" || assetID == ledger.CashAsset {
		e.reject(side, "invalid_asset")
		return nil, ledger.ErrInvalidAmount
	}

	row := ledger.Transaction{
		AccountID:      accountID,
		Type:           side,
		CoinID:         assetID,
		Amount:         qty,
		ExecutionPrice: price,
		TotalValue:     qty.Mul(price),
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := e.store.RunTransaction(ctx, []uuid.UUID{accountID}, func(txn *store.Txn) error {
			a, ok := txn.Account(accountID)
			if !ok {
				return store.ErrNotFound
			}

			var next *ledger.Account
			var applyErr error
			if side == ledger.TxBuy {
				next, applyErr = ledger.ApplyBuy(a, assetID, qty, price)
			} else {
				next, applyErr = ledger.ApplySell(a, assetID, qty, price)
			}
			if applyErr != nil {
				return applyErr
			}

			txn.Put(next)
			row = txn.Append(row)
			return nil
		})

		switch {
		case err == nil:
			if e.metrics != nil {
				e.metrics.TradesExecuted.WithLabelValues(string(side)).Inc()
				e.metrics.TradeDuration.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
			}
			e.log.Info().
				Str("account_id", accountID.String()).
				Str("side", string(side)).
				Str("asset_id", assetID).
				Str("quantity", qty.String()).
				Str("price", price.String()).
				Msg("trade committed")
			return &row, nil

		case errors.Is(err, store.ErrConflict):
			if e.metrics != nil {
				e.metrics.StoreConflicts.WithLabelValues("trade").Inc()
			}
			e.log.Warn().
				Str("account_id", accountID.String()).
				Int("attempt", attempt+1).
				Msg("trade transaction conflict, retrying")
			continue

		default:
			e.reject(side, rejectReason(err))
			return nil, err
		}
	}

	e.reject(side, "conflict_retries_exhausted")
	return nil, fmt.Errorf("%s %s: %w", side, assetID, ledger.ErrStorageConflict)
}

func (e *Executor) reject(side ledger.TxType, reason string) {
	if e.metrics != nil {
		e.metrics.TradesRejected.WithLabelValues(string(side), reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, store.ErrNotFound):
		return "account_not_found"
	default:
		return "error"
	}
}
