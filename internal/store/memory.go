package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"CoinVault/internal/ledger"
)

// MemoryStore is the in-memory Store used by unit tests and dev mode. A
// single mutex serializes commits; version checks still run so that the
// conflict path can be exercised (see FailCommits).
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*ledger.Account
	log      map[uuid.UUID][]ledger.Transaction

	// failCommits forces the next N commits to report ErrConflict after fn
	// ran but before any write lands. Lets tests drive the retry path.
	failCommits int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*ledger.Account),
		log:      make(map[uuid.UUID][]ledger.Transaction),
	}
}

// FailCommits makes the next n RunTransaction commits abort with
// ErrConflict, simulating concurrent writers.
func (s *MemoryStore) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

func (s *MemoryStore) CreateAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return ErrExists
	}
	cp := a.Clone()
	cp.Version = 1
	s.accounts[a.ID] = cp
	a.Version = 1
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, ids []uuid.UUID, fn func(txn *Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reads := make(map[uuid.UUID]*ledger.Account, len(ids))
	versions := make(map[uuid.UUID]int64, len(ids))
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			reads[id] = a.Clone()
			versions[id] = a.Version
		}
	}

	txn := NewTxn(reads)
	if err := fn(txn); err != nil {
		return err
	}

	if s.failCommits > 0 {
		s.failCommits--
		return ErrConflict
	}

	// Version recheck against the live documents. Under the single mutex
	// this cannot fire naturally, but it is the same commit rule the
	// Postgres store enforces.
	for id, want := range versions {
		if cur, ok := s.accounts[id]; ok && cur.Version != want {
			return ErrConflict
		}
	}

	for id, a := range txn.Writes() {
		cp := a.Clone()
		cp.Version = versions[id] + 1
		s.accounts[id] = cp
	}

	for _, tx := range txn.Appends() {
		s.log[tx.AccountID] = append(s.log[tx.AccountID], tx)
	}

	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID uuid.UUID, filter TxFilter) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]ledger.Transaction, 0, len(s.log[accountID]))
	for _, tx := range s.log[accountID] {
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && tx.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && tx.Timestamp.After(filter.Until) {
			continue
		}
		rows = append(rows, tx)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})

	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}
