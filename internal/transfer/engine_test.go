package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"CoinVault/internal/ledger"
	"CoinVault/internal/store"
	"CoinVault/internal/totp"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newPair(t *testing.T) (*Engine, *store.MemoryStore, *ledger.Account, *ledger.Account) {
	t.Helper()
	st := store.NewMemoryStore()
	sender := ledger.NewAccount("alice", "alice@example.com", dec("10000"))
	receiver := ledger.NewAccount("bob", "bob@example.com", dec("10000"))
	require.NoError(t, st.CreateAccount(context.Background(), sender))
	require.NoError(t, st.CreateAccount(context.Background(), receiver))
	return NewEngine(st, zerolog.Nop(), nil), st, sender, receiver
}

func TestCashTransferMovesFundsAtomically(t *testing.T) {
	eng, st, sender, receiver := newPair(t)

	withdraw, deposit, err := eng.Transfer(context.Background(), Request{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Amount:     dec("2500"),
		Kind:       KindCash,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.TxWithdraw, withdraw.Type)
	require.Equal(t, receiver.ID, *withdraw.CounterpartyID)
	require.Equal(t, ledger.TxDeposit, deposit.Type)
	require.Equal(t, receiver.ID, deposit.AccountID)
	require.Equal(t, sender.ID, *deposit.CounterpartyID)

	// Both returned legs carry their committed identity.
	require.NotEqual(t, uuid.Nil, withdraw.ID)
	require.NotEqual(t, uuid.Nil, deposit.ID)
	require.NotEqual(t, withdraw.ID, deposit.ID)
	require.False(t, withdraw.Timestamp.IsZero())
	require.False(t, deposit.Timestamp.IsZero())

	s, err := st.GetAccount(context.Background(), sender.ID)
	require.NoError(t, err)
	r, err := st.GetAccount(context.Background(), receiver.ID)
	require.NoError(t, err)
	require.True(t, s.CashBalance.Equal(dec("7500")))
	require.True(t, r.CashBalance.Equal(dec("12500")))

	// One row on each side, linked to the counterparty.
	sRows, err := st.ListTransactions(context.Background(), sender.ID, store.TxFilter{})
	require.NoError(t, err)
	require.Len(t, sRows, 1)
	require.Equal(t, ledger.TxWithdraw, sRows[0].Type)

	rRows, err := st.ListTransactions(context.Background(), receiver.ID, store.TxFilter{})
	require.NoError(t, err)
	require.Len(t, rRows, 1)
	require.Equal(t, ledger.TxDeposit, rRows[0].Type)
	require.Equal(t, sender.ID, *rRows[0].CounterpartyID)
	require.Equal(t, deposit.ID, rRows[0].ID, "returned leg matches the stored row")
	require.Equal(t, withdraw.ID, sRows[0].ID)
}

func TestAssetTransferDoesNotCarryBasis(t *testing.T) {
	eng, st, sender, receiver := newPair(t)

	// Seed the sender's holding directly with a known basis.
	require.NoError(t, st.RunTransaction(context.Background(), []uuid.UUID{sender.ID}, func(txn *store.Txn) error {
		a, _ := txn.Account(sender.ID)
		next, err := ledger.ApplyBuy(a, "btc", dec("1"), dec("40000"))
		if err != nil {
			return err
		}
		txn.Put(next)
		return nil
	}))

	_, _, err := eng.Transfer(context.Background(), Request{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Amount:     dec("0.4"),
		Kind:       KindAsset,
		AssetID:    "btc",
	})
	require.NoError(t, err)

	s, err := st.GetAccount(context.Background(), sender.ID)
	require.NoError(t, err)
	r, err := st.GetAccount(context.Background(), receiver.ID)
	require.NoError(t, err)

	sh, ok := s.Holding("btc")
	require.True(t, ok)
	require.True(t, sh.Amount.Equal(dec("0.6")))
	require.True(t, sh.AvgPrice.Equal(dec("40000")), "sender basis unchanged")

	rh, ok := r.Holding("btc")
	require.True(t, ok)
	require.True(t, rh.Amount.Equal(dec("0.4")))
	require.False(t, rh.BasisKnown(), "receiver basis unknown until next buy")
}

func TestTransferRejections(t *testing.T) {
	eng, st, sender, receiver := newPair(t)

	_, _, err := eng.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("-5"), Kind: KindCash,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, _, err = eng.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: sender.ID,
		Amount: dec("5"), Kind: KindCash,
	})
	require.ErrorIs(t, err, ledger.ErrSelfTransfer)

	_, _, err = eng.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: ledger.NewAccount("ghost", "g@g", dec("0")).ID,
		Amount: dec("5"), Kind: KindCash,
	})
	require.ErrorIs(t, err, ledger.ErrRecipientNotFound)

	_, _, err = eng.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("999999"), Kind: KindCash,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, _, err = eng.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("1"), Kind: KindAsset, AssetID: "btc",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientHoldings)

	// No rejected attempt wrote anything.
	s, err := st.GetAccount(context.Background(), sender.ID)
	require.NoError(t, err)
	require.True(t, s.CashBalance.Equal(dec("10000")))
	rows, err := st.ListTransactions(context.Background(), sender.ID, store.TxFilter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestTransferRetriesThenSucceeds(t *testing.T) {
	eng, st, sender, receiver := newPair(t)

	st.FailCommits(3)
	_, _, err := eng.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("100"), Kind: KindCash,
	})
	require.NoError(t, err)

	s, err := st.GetAccount(context.Background(), sender.ID)
	require.NoError(t, err)
	r, err := st.GetAccount(context.Background(), receiver.ID)
	require.NoError(t, err)
	require.True(t, s.CashBalance.Equal(dec("9900")), "transfer applied exactly once")
	require.True(t, r.CashBalance.Equal(dec("10100")))
}

func TestTransferRetriesExhausted(t *testing.T) {
	eng, st, sender, receiver := newPair(t)

	st.FailCommits(maxRetries)
	_, _, err := eng.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("100"), Kind: KindCash,
	})
	require.ErrorIs(t, err, ledger.ErrTransferFailed)

	s, err := st.GetAccount(context.Background(), sender.ID)
	require.NoError(t, err)
	require.True(t, s.CashBalance.Equal(dec("10000")))
}

func TestGateBlocksWithoutValidCode(t *testing.T) {
	eng, st, sender, receiver := newPair(t)
	totpSvc := totp.NewService(st, zerolog.Nop(), nil)
	gate := NewGate(eng, totpSvc, zerolog.Nop())

	// No second factor: any code string passes through.
	_, _, err := gate.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("10"), Kind: KindCash,
	}, "")
	require.NoError(t, err)

	prov, err := totp.Provision("alice@example.com")
	require.NoError(t, err)
	code, err := totp.CodeAt(prov.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, totpSvc.Enable(context.Background(), sender.ID, code, prov.Secret, prov.RecoveryKey))

	_, _, err = gate.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("10"), Kind: KindCash,
	}, "000000")
	require.ErrorIs(t, err, ledger.ErrInvalidCode)

	s, err := st.GetAccount(context.Background(), sender.ID)
	require.NoError(t, err)
	require.True(t, s.CashBalance.Equal(dec("9990")), "blocked transfer left balances alone")

	code, err = totp.CodeAt(prov.Secret, time.Now())
	require.NoError(t, err)
	_, _, err = gate.Transfer(context.Background(), Request{
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: dec("10"), Kind: KindCash,
	}, code)
	require.NoError(t, err)

	s, err = st.GetAccount(context.Background(), sender.ID)
	require.NoError(t, err)
	require.True(t, s.CashBalance.Equal(dec("9980")))
}
