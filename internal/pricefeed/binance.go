package pricefeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"CoinVault/internal/ledger"
)

// BinanceFeed quotes spot prices from the Binance ticker API. Asset ids
// are quoted against USDT (btc -> BTCUSDT).
type BinanceFeed struct {
	client *binance.Client
}

func NewBinanceFeed(apiKey, secretKey string) *BinanceFeed {
	return &BinanceFeed{client: binance.NewClient(apiKey, secretKey)}
}

func (f *BinanceFeed) CurrentPrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	if assetID == "" || assetID == ledger.CashAsset {
		return decimal.Zero, ErrUnavailable
	}

	symbol := strings.ToUpper(assetID) + "USDT"
	prices, err := f.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, ErrUnavailable
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance price %s: parse %q: %w", symbol, prices[0].Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrUnavailable
	}
	return price, nil
}
