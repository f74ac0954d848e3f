package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestAccount(cash string) *Account {
	return NewAccount("alice", "alice@example.com", dec(cash))
}

func TestApplyBuy_InsufficientFunds(t *testing.T) {
	acc := newTestAccount("10000")

	// 0.3 BTC at 50000 costs 15000 > 10000
	_, err := ApplyBuy(acc, "btc", dec("0.3"), dec("50000"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Input account untouched
	require.True(t, acc.CashBalance.Equal(dec("10000")))
	require.Empty(t, acc.Holdings)
}

func TestApplyBuy_FirstPurchase(t *testing.T) {
	acc := newTestAccount("10000")

	next, err := ApplyBuy(acc, "btc", dec("0.1"), dec("50000"))
	require.NoError(t, err)

	require.True(t, next.CashBalance.Equal(dec("5000")), "cash: %s", next.CashBalance)
	h, ok := next.Holding("btc")
	require.True(t, ok)
	require.True(t, h.Amount.Equal(dec("0.1")))
	require.True(t, h.AvgPrice.Equal(dec("50000")))
}

func TestApplyBuy_RejectsNonPositive(t *testing.T) {
	acc := newTestAccount("10000")

	_, err := ApplyBuy(acc, "btc", dec("0"), dec("50000"))
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ApplyBuy(acc, "btc", dec("0.1"), dec("-1"))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyBuy_WeightedAveragePrice(t *testing.T) {
	acc := newTestAccount("100000")

	next, err := ApplyBuy(acc, "eth", dec("2"), dec("1000"))
	require.NoError(t, err)
	next, err = ApplyBuy(next, "eth", dec("2"), dec("2000"))
	require.NoError(t, err)

	h, _ := next.Holding("eth")
	// (2*1000 + 2*2000) / 4 = 1500
	require.True(t, h.AvgPrice.Sub(dec("1500")).Abs().LessThanOrEqual(Epsilon),
		"avg price: %s", h.AvgPrice)
	require.True(t, h.Amount.Equal(dec("4")))
}

func TestApplyBuy_UnknownBasisSeededFromTradePrice(t *testing.T) {
	acc := newTestAccount("100000")

	// Received via transfer: amount without basis
	credited, err := ApplyAssetCredit(acc, "eth", dec("1"))
	require.NoError(t, err)
	h, _ := credited.Holding("eth")
	require.False(t, h.BasisKnown())

	next, err := ApplyBuy(credited, "eth", dec("1"), dec("3000"))
	require.NoError(t, err)

	h, _ = next.Holding("eth")
	// Unknown prior basis is treated as the trade price: avg stays 3000.
	require.True(t, h.AvgPrice.Equal(dec("3000")), "avg price: %s", h.AvgPrice)
}

func TestApplySell_InsufficientHoldings(t *testing.T) {
	acc := newTestAccount("10000")

	_, err := ApplySell(acc, "btc", dec("0.1"), dec("50000"))
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	bought, err := ApplyBuy(acc, "btc", dec("0.1"), dec("50000"))
	require.NoError(t, err)

	_, err = ApplySell(bought, "btc", dec("0.2"), dec("50000"))
	require.ErrorIs(t, err, ErrInsufficientHoldings)
}

func TestApplySell_AvgPriceUnchanged(t *testing.T) {
	acc := newTestAccount("10000")
	bought, err := ApplyBuy(acc, "btc", dec("0.1"), dec("50000"))
	require.NoError(t, err)

	next, err := ApplySell(bought, "btc", dec("0.04"), dec("60000"))
	require.NoError(t, err)

	h, ok := next.Holding("btc")
	require.True(t, ok)
	require.True(t, h.Amount.Equal(dec("0.06")))
	require.True(t, h.AvgPrice.Equal(dec("50000")), "sell must not touch cost basis")
	require.True(t, next.CashBalance.Equal(dec("7400"))) // 5000 + 0.04*60000
}

func TestApplySell_ExhaustedHoldingPruned(t *testing.T) {
	acc := newTestAccount("10000")
	bought, err := ApplyBuy(acc, "btc", dec("0.1"), dec("50000"))
	require.NoError(t, err)

	next, err := ApplySell(bought, "btc", dec("0.1"), dec("50000"))
	require.NoError(t, err)

	_, ok := next.Holding("btc")
	require.False(t, ok, "exhausted holding must not persist as a zero row")
}

func TestApplySell_SubEpsilonResiduePruned(t *testing.T) {
	acc := newTestAccount("10000")
	bought, err := ApplyBuy(acc, "btc", dec("0.1"), dec("50000"))
	require.NoError(t, err)

	// Leave 1e-9, below the 1e-8 tolerance
	next, err := ApplySell(bought, "btc", dec("0.099999999"), dec("50000"))
	require.NoError(t, err)

	_, ok := next.Holding("btc")
	require.False(t, ok, "sub-epsilon residue must be pruned")
}

func TestApplyCashDebitCredit_Conservation(t *testing.T) {
	sender := newTestAccount("1000")
	receiver := newTestAccount("0")

	s2, err := ApplyCashDebit(sender, dec("500"))
	require.NoError(t, err)
	r2, err := ApplyCashCredit(receiver, dec("500"))
	require.NoError(t, err)

	debited := sender.CashBalance.Sub(s2.CashBalance)
	credited := r2.CashBalance.Sub(receiver.CashBalance)
	require.True(t, debited.Equal(credited), "value must be conserved across legs")
	require.True(t, s2.CashBalance.Equal(dec("500")))
	require.True(t, r2.CashBalance.Equal(dec("500")))
}

func TestApplyCashDebit_Overdraft(t *testing.T) {
	sender := newTestAccount("100")
	_, err := ApplyCashDebit(sender, dec("100.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestApplyAssetDebitCredit_BasisNotTransferred(t *testing.T) {
	sender := newTestAccount("100000")
	sender, err := ApplyBuy(sender, "eth", dec("3"), dec("2000"))
	require.NoError(t, err)

	receiver := newTestAccount("0")

	s2, err := ApplyAssetDebit(sender, "eth", dec("1"))
	require.NoError(t, err)
	r2, err := ApplyAssetCredit(receiver, "eth", dec("1"))
	require.NoError(t, err)

	sh, _ := s2.Holding("eth")
	require.True(t, sh.Amount.Equal(dec("2")))
	require.True(t, sh.AvgPrice.Equal(dec("2000")), "sender keeps its basis")

	rh, _ := r2.Holding("eth")
	require.True(t, rh.Amount.Equal(dec("1")))
	require.False(t, rh.BasisKnown(), "receiver starts with unknown basis")
}

func TestApplyAssetCredit_ExistingBasisUntouched(t *testing.T) {
	receiver := newTestAccount("100000")
	receiver, err := ApplyBuy(receiver, "eth", dec("1"), dec("1000"))
	require.NoError(t, err)

	next, err := ApplyAssetCredit(receiver, "eth", dec("1"))
	require.NoError(t, err)

	h, _ := next.Holding("eth")
	require.True(t, h.Amount.Equal(dec("2")))
	require.True(t, h.AvgPrice.Equal(dec("1000")), "prior average price kept on receipt")
}

func TestApplyAssetDebit_FullTransferPrunes(t *testing.T) {
	sender := newTestAccount("100000")
	sender, err := ApplyBuy(sender, "eth", dec("1"), dec("2000"))
	require.NoError(t, err)

	next, err := ApplyAssetDebit(sender, "eth", dec("1"))
	require.NoError(t, err)
	_, ok := next.Holding("eth")
	require.False(t, ok)
}

func TestClone_Isolated(t *testing.T) {
	acc := newTestAccount("100")
	acc.Holdings["btc"] = Holding{AssetID: "btc", Amount: dec("1"), AvgPrice: dec("50000")}

	cp := acc.Clone()
	cp.Holdings["btc"] = Holding{AssetID: "btc", Amount: dec("2"), AvgPrice: dec("1")}

	require.True(t, acc.Holdings["btc"].Amount.Equal(dec("1")))
}
