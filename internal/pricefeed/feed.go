// Package pricefeed supplies current market prices for tradable assets.
package pricefeed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable reports that no current price exists for an asset. A feed
// returns this rather than a zero price: zero would silently value real
// holdings at nothing.
var ErrUnavailable = errors.New("pricefeed: price unavailable")

// Feed yields the current market price of one asset in cash units.
type Feed interface {
	CurrentPrice(ctx context.Context, assetID string) (decimal.Decimal, error)
}
