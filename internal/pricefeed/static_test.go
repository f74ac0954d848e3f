package pricefeed

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed(map[string]decimal.Decimal{
		"btc":  decimal.NewFromInt(25000),
		"dead": decimal.Zero,
	})

	p, err := feed.CurrentPrice(context.Background(), "btc")
	require.NoError(t, err)
	require.True(t, p.Equal(decimal.NewFromInt(25000)))

	_, err = feed.CurrentPrice(context.Background(), "eth")
	require.ErrorIs(t, err, ErrUnavailable)

	// A zero quote is unavailable, never returned as a price.
	_, err = feed.CurrentPrice(context.Background(), "dead")
	require.ErrorIs(t, err, ErrUnavailable)

	feed.SetPrice("eth", decimal.NewFromInt(1600))
	p, err = feed.CurrentPrice(context.Background(), "eth")
	require.NoError(t, err)
	require.True(t, p.Equal(decimal.NewFromInt(1600)))
}
