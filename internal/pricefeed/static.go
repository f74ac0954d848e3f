package pricefeed

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// StaticFeed serves prices from a fixed in-memory table. Used in tests and
// for local runs without exchange credentials.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticFeed(prices map[string]decimal.Decimal) *StaticFeed {
	table := make(map[string]decimal.Decimal, len(prices))
	for id, p := range prices {
		table[id] = p
	}
	return &StaticFeed{prices: table}
}

func (f *StaticFeed) CurrentPrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	f.mu.RLock()
	price, ok := f.prices[assetID]
	f.mu.RUnlock()
	if !ok || !price.IsPositive() {
		return decimal.Zero, ErrUnavailable
	}
	return price, nil
}

// SetPrice updates or adds one quote.
func (f *StaticFeed) SetPrice(assetID string, price decimal.Decimal) {
	f.mu.Lock()
	f.prices[assetID] = price
	f.mu.Unlock()
}
