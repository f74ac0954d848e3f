// Package persistence implements the document-store contract on Postgres.
// Account documents live in one row each with an optimistic version column;
// transaction-log rows are append-only. A conditional transaction maps to a
// DB transaction that locks the document rows in id order, re-checks
// versions on write, and inserts the staged log rows.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CoinVault/internal/ledger"
	"CoinVault/internal/observability"
	"CoinVault/internal/store"
)

const uniqueViolation = "23505"

// PostgresStore implements store.Store.
type PostgresStore struct {
	db      *sql.DB
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPostgresStore(db *sql.DB, log zerolog.Logger, metrics *observability.Metrics) *PostgresStore {
	return &PostgresStore{db: db, log: log, metrics: metrics}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *ledger.Account) error {
	holdings, err := json.Marshal(a.Holdings)
	if err != nil {
		return fmt.Errorf("marshal holdings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts
			(id, display_name, email, cash_balance, holdings,
			 totp_secret, recovery_key, two_fa_enabled,
			 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.DisplayName, a.Email, a.CashBalance.String(), holdings,
		a.TOTPSecret, a.RecoveryKey, a.TwoFAEnabled,
		a.Version, a.CreatedAt, a.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, cash_balance, holdings,
		       totp_secret, recovery_key, two_fa_enabled,
		       version, created_at, updated_at
		FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// RunTransaction locks the requested document rows FOR UPDATE in id order
// (consistent ordering prevents lock cycles between concurrent two-account
// transfers), hands the fresh values to fn, then applies staged writes with
// a version re-check and inserts staged log rows. Any version mismatch
// aborts the DB transaction and surfaces store.ErrConflict.
func (s *PostgresStore) RunTransaction(ctx context.Context, ids []uuid.UUID, fn func(txn *store.Txn) error) error {
	start := time.Now()

	ordered := make([]uuid.UUID, len(ids))
	copy(ordered, ids)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer dbTx.Rollback()

	reads := make(map[uuid.UUID]*ledger.Account, len(ordered))
	versions := make(map[uuid.UUID]int64, len(ordered))
	for _, id := range ordered {
		row := dbTx.QueryRowContext(ctx, `
			SELECT id, display_name, email, cash_balance, holdings,
			       totp_secret, recovery_key, two_fa_enabled,
			       version, created_at, updated_at
			FROM accounts WHERE id = $1 FOR UPDATE`, id)
		a, err := scanAccount(row)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		reads[id] = a
		versions[id] = a.Version
	}

	txn := store.NewTxn(reads)
	if err := fn(txn); err != nil {
		return err
	}

	for id, a := range txn.Writes() {
		res, err := dbTx.ExecContext(ctx, `
			UPDATE accounts
			SET display_name = $2, email = $3, cash_balance = $4, holdings = $5,
			    totp_secret = $6, recovery_key = $7, two_fa_enabled = $8,
			    version = version + 1, updated_at = $9
			WHERE id = $1 AND version = $10`,
			id, a.DisplayName, a.Email, a.CashBalance.String(), mustMarshal(a.Holdings),
			a.TOTPSecret, a.RecoveryKey, a.TwoFAEnabled,
			a.UpdatedAt, versions[id],
		)
		if err != nil {
			return fmt.Errorf("update account %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrConflict
		}
	}

	for _, tx := range txn.Appends() {
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO transactions
				(id, account_id, type, coin_id, amount,
				 execution_price, total_value, counterparty_id, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			tx.ID, tx.AccountID, string(tx.Type), tx.CoinID, tx.Amount.String(),
			tx.ExecutionPrice.String(), tx.TotalValue.String(), tx.CounterpartyID, tx.Timestamp,
		); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if s.metrics != nil {
		s.metrics.StoreTxnDur.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID uuid.UUID, filter store.TxFilter) ([]ledger.Transaction, error) {
	query := `
		SELECT id, account_id, type, coin_id, amount,
		       execution_price, total_value, counterparty_id, ts
		FROM transactions WHERE account_id = $1`
	args := []any{accountID}

	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	query += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx                               ledger.Transaction
			typ, amount, execPrice, totalVal string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &typ, &tx.CoinID, &amount,
			&execPrice, &totalVal, &tx.CounterpartyID, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Type = ledger.TxType(typ)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if tx.ExecutionPrice, err = decimal.NewFromString(execPrice); err != nil {
			return nil, fmt.Errorf("parse execution price: %w", err)
		}
		if tx.TotalValue, err = decimal.NewFromString(totalVal); err != nil {
			return nil, fmt.Errorf("parse total value: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		a        ledger.Account
		cash     string
		holdings []byte
	)
	err := row.Scan(&a.ID, &a.DisplayName, &a.Email, &cash, &holdings,
		&a.TOTPSecret, &a.RecoveryKey, &a.TwoFAEnabled,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if a.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("parse cash balance: %w", err)
	}
	if err := json.Unmarshal(holdings, &a.Holdings); err != nil {
		return nil, fmt.Errorf("unmarshal holdings: %w", err)
	}
	if a.Holdings == nil {
		a.Holdings = make(map[string]ledger.Holding)
	}
	return &a, nil
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
