// Package store defines the document-store contract the ledger engines run
// against: single-document reads, conditional multi-document transactions
// and an append-only per-account transaction log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"CoinVault/internal/ledger"
)

var (
	// ErrNotFound means the account document does not exist.
	ErrNotFound = errors.New("account document not found")

	// ErrConflict means a document in the transaction's read set was
	// modified concurrently between read and write. The whole transaction
	// had no effect; callers retry from scratch.
	ErrConflict = errors.New("conflicting concurrent write")

	// ErrExists means an account with that id already exists.
	ErrExists = errors.New("account already exists")
)

// Txn is the workspace of one conditional transaction: freshly read account
// documents, staged writes, and staged transaction-log appends. Commit is
// all-or-nothing; a conflicting concurrent write on any read document aborts
// the whole set.
type Txn struct {
	reads   map[uuid.UUID]*ledger.Account
	writes  map[uuid.UUID]*ledger.Account
	appends []ledger.Transaction
}

func NewTxn(reads map[uuid.UUID]*ledger.Account) *Txn {
	return &Txn{
		reads:  reads,
		writes: make(map[uuid.UUID]*ledger.Account),
	}
}

// Account returns the freshly read document for id. Validation inside the
// transaction must use these values, never an earlier snapshot.
func (t *Txn) Account(id uuid.UUID) (*ledger.Account, bool) {
	a, ok := t.reads[id]
	return a, ok
}

// Put stages an updated account document for the commit.
func (t *Txn) Put(a *ledger.Account) {
	t.writes[a.ID] = a
}

// Append stages a transaction row, assigning its id and timestamp so the
// caller can hand the committed row to clients. Pre-set values are kept,
// which makes the insert idempotent across commit retries.
func (t *Txn) Append(tx ledger.Transaction) ledger.Transaction {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	t.appends = append(t.appends, tx)
	return tx
}

// Writes returns the staged account writes.
func (t *Txn) Writes() map[uuid.UUID]*ledger.Account { return t.writes }

// Appends returns the staged transaction rows.
func (t *Txn) Appends() []ledger.Transaction { return t.appends }

// TxFilter narrows a transaction-history query. Zero values mean "no
// constraint".
type TxFilter struct {
	Type  ledger.TxType
	Since time.Time
	Until time.Time
	Limit int
}

// Store is the persistence contract. All account mutations, single- or
// two-document, go through RunTransaction; there is no unconditional
// read-modify-write path.
type Store interface {
	// CreateAccount inserts a new account document.
	CreateAccount(ctx context.Context, a *ledger.Account) error

	// GetAccount reads the latest account document.
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)

	// RunTransaction reads the fixed document set, invokes fn with the
	// fresh values, and commits the staged writes and appends atomically.
	// Missing ids are simply absent from the Txn (fn decides whether that
	// is an error). Returns ErrConflict if any read document changed
	// before the commit; the caller retries the whole transaction.
	RunTransaction(ctx context.Context, ids []uuid.UUID, fn func(txn *Txn) error) error

	// ListTransactions returns the account's transaction log ordered by
	// timestamp descending.
	ListTransactions(ctx context.Context, accountID uuid.UUID, filter TxFilter) ([]ledger.Transaction, error)
}
