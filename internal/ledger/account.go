package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashAsset is the sentinel asset id for pure cash movements.
const CashAsset = "cash"

// Epsilon is the amount tolerance: holdings at or below this residue are
// treated as zero and pruned rather than persisted.
var Epsilon = decimal.New(1, -8) // 1e-8

// Holding is a quantity of one asset held by an account, with its cost basis.
type Holding struct {
	AssetID string          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`

	// AvgPrice is the quantity-weighted average entry price. A zero value
	// means the basis is unknown (holdings received via transfer start with
	// no basis); the next buy seeds it from the trade price.
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// BasisKnown reports whether the holding carries a cost basis.
func (h Holding) BasisKnown() bool {
	return h.AvgPrice.IsPositive()
}

// Account is the single ledger document per user: cash, holdings and the
// second-factor state. Version is the compare-and-swap token used by the
// document store; it is bumped on every committed write.
type Account struct {
	ID          uuid.UUID          `json:"id"`
	DisplayName string             `json:"display_name"`
	Email       string             `json:"email"`
	CashBalance decimal.Decimal    `json:"cash_balance"`
	Holdings    map[string]Holding `json:"holdings"`

	// 2FA state. TwoFAEnabled is true iff both TOTPSecret and RecoveryKey
	// are set; enable and disable mutate all three together.
	TOTPSecret   string `json:"totp_secret,omitempty"`
	RecoveryKey  string `json:"recovery_key,omitempty"`
	TwoFAEnabled bool   `json:"twofa_enabled"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount creates an account with the given starting cash balance and no
// holdings.
func NewAccount(displayName, email string, startingCash decimal.Decimal) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:          uuid.New(),
		DisplayName: displayName,
		Email:       email,
		CashBalance: startingCash,
		Holdings:    make(map[string]Holding),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy. Transitions never mutate their input account;
// they clone, modify and return.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Holdings = make(map[string]Holding, len(a.Holdings))
	for k, v := range a.Holdings {
		cp.Holdings[k] = v
	}
	return &cp
}

// Holding returns the holding row for an asset, if present.
func (a *Account) Holding(assetID string) (Holding, bool) {
	h, ok := a.Holdings[assetID]
	return h, ok
}

// setHolding writes or prunes a holding row: amounts at or below Epsilon
// never persist as zero rows.
func (a *Account) setHolding(h Holding) {
	if h.Amount.LessThanOrEqual(Epsilon) {
		delete(a.Holdings, h.AssetID)
		return
	}
	a.Holdings[h.AssetID] = h
}

// TxType discriminates ledger transaction rows.
type TxType string

const (
	TxBuy      TxType = "buy"
	TxSell     TxType = "sell"
	TxWithdraw TxType = "withdraw"
	TxDeposit  TxType = "deposit"
	TxDust     TxType = "dust"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxBuy, TxSell, TxWithdraw, TxDeposit, TxDust:
		return true
	}
	return false
}

// Transaction is one immutable row in an account's append-only log. Amount
// is always positive; direction is implied by Type. TotalValue is frozen at
// execution time and never recomputed.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	Type           TxType          `json:"type"`
	CoinID         string          `json:"coin_id"`
	Amount         decimal.Decimal `json:"amount"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	TotalValue     decimal.Decimal `json:"total_value"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id,omitempty"`

	// Timestamp is server-assigned by the store on append, monotonically
	// non-decreasing per account.
	Timestamp time.Time `json:"timestamp"`
}
