// Package dust sweeps low-value holdings into cash in one atomic write.
package dust

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CoinVault/internal/ledger"
	"CoinVault/internal/observability"
	"CoinVault/internal/store"
)

const maxRetries = 3

// DefaultLimit is the exclusive value threshold below which a holding
// counts as dust.
var DefaultLimit = decimal.NewFromInt(10)

// Result reports one completed sweep.
type Result struct {
	Converted []string           // asset ids swept, sorted
	Value     decimal.Decimal    // cash credited
	Row       ledger.Transaction // the committed journal row
}

// Consolidator finds holdings whose market value sits below a limit and
// converts them all to cash in a single conditional transaction.
type Consolidator struct {
	store   store.Store
	limit   decimal.Decimal
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewConsolidator(st store.Store, limit decimal.Decimal, log zerolog.Logger, metrics *observability.Metrics) *Consolidator {
	if !limit.IsPositive() {
		limit = DefaultLimit
	}
	return &Consolidator{store: st, limit: limit, log: log, metrics: metrics}
}

// Consolidate sweeps the account's dust holdings. valuations maps asset id
// to current market value of the entire position; a holding with no entry
// is kept untouched rather than guessed at. Holdings valued at zero are
// kept as well. Returns ErrNoDustFound when nothing qualifies.
func (c *Consolidator) Consolidate(ctx context.Context, accountID uuid.UUID, valuations map[string]decimal.Decimal) (*Result, error) {
	var result *Result

	for attempt := 0; attempt < maxRetries; attempt++ {
		result = nil
		err := c.store.RunTransaction(ctx, []uuid.UUID{accountID}, func(txn *store.Txn) error {
			a, ok := txn.Account(accountID)
			if !ok {
				return store.ErrNotFound
			}

			var swept []string
			total := decimal.Zero
			for assetID := range a.Holdings {
				value, ok := valuations[assetID]
				if !ok {
					continue
				}
				if value.IsPositive() && value.LessThan(c.limit) {
					swept = append(swept, assetID)
					total = total.Add(value)
				}
			}
			if len(swept) == 0 {
				return ledger.ErrNoDustFound
			}
			sort.Strings(swept)

			next, err := ledger.ApplyDustSweep(a, swept, total)
			if err != nil {
				return err
			}
			txn.Put(next)
			row := txn.Append(ledger.Transaction{
				AccountID:  accountID,
				Type:       ledger.TxDust,
				CoinID:     ledger.CashAsset,
				Amount:     total,
				TotalValue: total,
			})

			result = &Result{Converted: swept, Value: total, Row: row}
			return nil
		})

		switch {
		case err == nil:
			if c.metrics != nil {
				c.metrics.DustSweeps.Inc()
				c.metrics.DustHoldingsConverted.Add(float64(len(result.Converted)))
				v, _ := result.Value.Float64()
				c.metrics.DustValueConverted.Add(v)
			}
			c.log.Info().
				Str("account_id", accountID.String()).
				Strs("assets", result.Converted).
				Str("value", result.Value.String()).
				Msg("dust consolidated")
			return result, nil

		case errors.Is(err, store.ErrConflict):
			if c.metrics != nil {
				c.metrics.StoreConflicts.WithLabelValues("dust").Inc()
			}
			continue

		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("dust sweep: %w", ledger.ErrStorageConflict)
}
