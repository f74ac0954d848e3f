package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pure state transitions. Each takes the current account, validates, and
// returns a new account; the input is never mutated. No I/O happens here;
// persistence and transaction rows are the callers' concern.

// ApplyBuy debits cash by qty*price and adds qty to the asset holding,
// recomputing the cost-weighted average entry price. A holding whose basis
// is unknown is seeded from the trade price before averaging.
func ApplyBuy(a *Account, assetID string, qty, price decimal.Decimal) (*Account, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return nil, ErrInvalidAmount
	}

	cost := qty.Mul(price)
	if cost.GreaterThan(a.CashBalance) {
		return nil, ErrInsufficientFunds
	}

	next := a.Clone()
	next.CashBalance = next.CashBalance.Sub(cost)

	h, ok := next.Holding(assetID)
	if !ok {
		h = Holding{AssetID: assetID, Amount: qty, AvgPrice: price}
	} else {
		basis := h.AvgPrice
		if !h.BasisKnown() {
			basis = price
		}
		// avg' = (oldAmount*basis + qty*price) / (oldAmount + qty)
		newAmount := h.Amount.Add(qty)
		h.AvgPrice = h.Amount.Mul(basis).Add(cost).Div(newAmount)
		h.Amount = newAmount
	}
	next.setHolding(h)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ApplySell credits cash by qty*price and removes qty from the holding.
// The remaining units keep their average price; a sub-epsilon residue is
// pruned. Fails if the holding is absent or smaller than qty.
func ApplySell(a *Account, assetID string, qty, price decimal.Decimal) (*Account, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return nil, ErrInvalidAmount
	}

	h, ok := a.Holding(assetID)
	if !ok || h.Amount.LessThan(qty) {
		return nil, ErrInsufficientHoldings
	}

	next := a.Clone()
	next.CashBalance = next.CashBalance.Add(qty.Mul(price))
	h.Amount = h.Amount.Sub(qty)
	next.setHolding(h)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ApplyCashDebit removes cash without any cost-basis bookkeeping (transfer
// sender leg).
func ApplyCashDebit(a *Account, amount decimal.Decimal) (*Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(a.CashBalance) {
		return nil, ErrInsufficientFunds
	}
	next := a.Clone()
	next.CashBalance = next.CashBalance.Sub(amount)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ApplyCashCredit adds cash (transfer receiver leg).
func ApplyCashCredit(a *Account, amount decimal.Decimal) (*Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	next := a.Clone()
	next.CashBalance = next.CashBalance.Add(amount)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ApplyAssetDebit removes raw asset quantity from the sender. Cost basis of
// the remaining units is unaffected; an exhausted holding is pruned.
func ApplyAssetDebit(a *Account, assetID string, amount decimal.Decimal) (*Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	h, ok := a.Holding(assetID)
	if !ok || h.Amount.LessThan(amount) {
		return nil, ErrInsufficientHoldings
	}
	next := a.Clone()
	h.Amount = h.Amount.Sub(amount)
	next.setHolding(h)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ApplyAssetCredit adds raw asset quantity to the receiver. Transfers move
// quantity, not cost basis: a newly created holding starts with an unknown
// basis, and an existing holding keeps its prior average untouched.
func ApplyAssetCredit(a *Account, assetID string, amount decimal.Decimal) (*Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	next := a.Clone()
	h, ok := next.Holding(assetID)
	if !ok {
		h = Holding{AssetID: assetID, Amount: amount}
	} else {
		h.Amount = h.Amount.Add(amount)
	}
	next.setHolding(h)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ApplyDustSweep removes every holding named in assetIDs and credits their
// combined market value as cash in the same state change.
func ApplyDustSweep(a *Account, assetIDs []string, totalValue decimal.Decimal) (*Account, error) {
	if totalValue.IsNegative() {
		return nil, ErrInvalidAmount
	}
	next := a.Clone()
	for _, id := range assetIDs {
		if _, ok := next.Holdings[id]; !ok {
			return nil, ErrInsufficientHoldings
		}
		delete(next.Holdings, id)
	}
	next.CashBalance = next.CashBalance.Add(totalValue)
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}
