// Package query provides read-only derived views over account state.
package query

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CoinVault/internal/pricefeed"
	"CoinVault/internal/store"
)

// Position is one priced holding inside a portfolio view.
type Position struct {
	CoinID        string           `json:"coin_id"`
	Amount        decimal.Decimal  `json:"amount"`
	AvgPrice      *decimal.Decimal `json:"avg_price,omitempty"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`
	MarketValue   *decimal.Decimal `json:"market_value,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

// Portfolio is a point-in-time valuation of an account. TotalValue covers
// cash plus every holding with a live quote; unquoted holdings appear with
// amount only and are excluded from the total.
type Portfolio struct {
	AccountID   uuid.UUID       `json:"account_id"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	Positions   []Position      `json:"positions"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// PortfolioService computes valuations at query time; nothing is stored.
type PortfolioService struct {
	store store.Store
	feed  pricefeed.Feed
}

func NewPortfolioService(st store.Store, feed pricefeed.Feed) *PortfolioService {
	return &PortfolioService{store: st, feed: feed}
}

// Portfolio values the account at current quotes. Unrealized profit is
// only computed when the cost basis is known.
func (s *PortfolioService) Portfolio(ctx context.Context, accountID uuid.UUID) (*Portfolio, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		AccountID:   acct.ID,
		CashBalance: acct.CashBalance,
		Positions:   make([]Position, 0, len(acct.Holdings)),
		TotalValue:  acct.CashBalance,
	}

	for _, h := range acct.Holdings {
		pos := Position{CoinID: h.AssetID, Amount: h.Amount}
		if h.BasisKnown() {
			avg := h.AvgPrice
			pos.AvgPrice = &avg
		}

		price, err := s.feed.CurrentPrice(ctx, h.AssetID)
		if err == nil {
			value := h.Amount.Mul(price)
			pos.CurrentPrice = &price
			pos.MarketValue = &value
			p.TotalValue = p.TotalValue.Add(value)
			if pos.AvgPrice != nil {
				pnl := value.Sub(h.Amount.Mul(*pos.AvgPrice))
				pos.UnrealizedPnL = &pnl
			}
		}

		p.Positions = append(p.Positions, pos)
	}
	sort.Slice(p.Positions, func(i, j int) bool {
		return p.Positions[i].CoinID < p.Positions[j].CoinID
	})
	return p, nil
}
