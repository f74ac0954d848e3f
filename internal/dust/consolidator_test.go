package dust

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"CoinVault/internal/ledger"
	"CoinVault/internal/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedAccount(t *testing.T, st *store.MemoryStore, holdings map[string]string) *ledger.Account {
	t.Helper()
	acct := ledger.NewAccount("alice", "alice@example.com", dec("100"))
	for assetID, amount := range holdings {
		acct.Holdings[assetID] = ledger.Holding{AssetID: assetID, Amount: dec(amount)}
	}
	require.NoError(t, st.CreateAccount(context.Background(), acct))
	return acct
}

func TestConsolidateSweepsOnlyDust(t *testing.T) {
	st := store.NewMemoryStore()
	acct := seedAccount(t, st, map[string]string{
		"btc":  "0.5",    // valued well above the limit
		"doge": "10",     // dust
		"shib": "100000", // dust
		"xyz":  "3",      // no valuation, must be kept
	})
	c := NewConsolidator(st, dec("10"), zerolog.Nop(), nil)

	res, err := c.Consolidate(context.Background(), acct.ID, map[string]decimal.Decimal{
		"btc":  dec("25000"),
		"doge": dec("1.50"),
		"shib": dec("2.25"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"doge", "shib"}, res.Converted)
	require.True(t, res.Value.Equal(dec("3.75")))

	got, err := st.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	require.True(t, got.CashBalance.Equal(dec("103.75")))
	_, ok := got.Holding("doge")
	require.False(t, ok)
	_, ok = got.Holding("shib")
	require.False(t, ok)
	_, ok = got.Holding("btc")
	require.True(t, ok)
	_, ok = got.Holding("xyz")
	require.True(t, ok, "unvalued holding kept")

	rows, err := st.ListTransactions(context.Background(), acct.ID, store.TxFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ledger.TxDust, rows[0].Type)
	require.True(t, rows[0].TotalValue.Equal(dec("3.75")))
	require.Equal(t, rows[0].ID, res.Row.ID, "result carries the committed row")
	require.False(t, res.Row.Timestamp.IsZero())
}

func TestConsolidateValueAtLimitIsKept(t *testing.T) {
	st := store.NewMemoryStore()
	acct := seedAccount(t, st, map[string]string{"ada": "25"})
	c := NewConsolidator(st, dec("10"), zerolog.Nop(), nil)

	// Exactly at the limit: not dust.
	_, err := c.Consolidate(context.Background(), acct.ID, map[string]decimal.Decimal{
		"ada": dec("10"),
	})
	require.ErrorIs(t, err, ledger.ErrNoDustFound)
}

func TestConsolidateZeroValueIsKept(t *testing.T) {
	st := store.NewMemoryStore()
	acct := seedAccount(t, st, map[string]string{"dead": "42"})
	c := NewConsolidator(st, dec("10"), zerolog.Nop(), nil)

	_, err := c.Consolidate(context.Background(), acct.ID, map[string]decimal.Decimal{
		"dead": decimal.Zero,
	})
	require.ErrorIs(t, err, ledger.ErrNoDustFound)
}

func TestConsolidateNoHoldings(t *testing.T) {
	st := store.NewMemoryStore()
	acct := seedAccount(t, st, nil)
	c := NewConsolidator(st, decimal.Zero, zerolog.Nop(), nil)

	_, err := c.Consolidate(context.Background(), acct.ID, nil)
	require.ErrorIs(t, err, ledger.ErrNoDustFound)

	got, err := st.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	require.True(t, got.CashBalance.Equal(dec("100")), "no-op sweep writes nothing")
}

func TestConsolidateUnknownAccount(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewConsolidator(st, dec("10"), zerolog.Nop(), nil)

	_, err := c.Consolidate(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsolidateRetriesOnConflict(t *testing.T) {
	st := store.NewMemoryStore()
	acct := seedAccount(t, st, map[string]string{"doge": "10"})
	c := NewConsolidator(st, dec("10"), zerolog.Nop(), nil)

	st.FailCommits(2)
	res, err := c.Consolidate(context.Background(), acct.ID, map[string]decimal.Decimal{
		"doge": dec("1.50"),
	})
	require.NoError(t, err)
	require.True(t, res.Value.Equal(dec("1.50")))

	got, err := st.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	require.True(t, got.CashBalance.Equal(dec("101.50")), "sweep applied exactly once")
}
