package totp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CoinVault/internal/ledger"
	"CoinVault/internal/observability"
	"CoinVault/internal/store"
)

// enable/disable are single-document writes; a handful of retries absorbs
// transient store conflicts.
const maxRetries = 3

// ErrNotEnabled distinguishes "no second factor on this account" from a
// failed code check, so callers can skip the factor without a second read.
var ErrNotEnabled = errors.New("second factor not enabled")

// Service persists the 2FA state transitions on top of the pure verifier.
type Service struct {
	store   store.Store
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewService(st store.Store, log zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{store: st, log: log, metrics: metrics}
}

// Enable verifies the code against the freshly provisioned secret and, on
// success, persists secret, recovery key and the enabled flag in one write.
// On failure nothing is persisted.
func (s *Service) Enable(ctx context.Context, accountID uuid.UUID, code, secret, recoveryKey string) error {
	if !Verify(code, secret) {
		return ledger.ErrInvalidCode
	}

	err := s.mutate(ctx, accountID, func(a *ledger.Account) error {
		a.TOTPSecret = secret
		a.RecoveryKey = recoveryKey
		a.TwoFAEnabled = true
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.TwoFAEnables.Inc()
	}
	s.log.Info().Str("account_id", accountID.String()).Msg("2fa enabled")
	return nil
}

// Disable verifies the code against the stored secret and clears the whole
// 2FA state atomically.
func (s *Service) Disable(ctx context.Context, accountID uuid.UUID, code string) error {
	err := s.mutate(ctx, accountID, func(a *ledger.Account) error {
		if !a.TwoFAEnabled {
			return ledger.ErrInvalidCode
		}
		if !Verify(code, a.TOTPSecret) {
			return ledger.ErrInvalidCode
		}
		clearTwoFA(a)
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.TwoFADisables.WithLabelValues("code").Inc()
	}
	s.log.Info().Str("account_id", accountID.String()).Msg("2fa disabled")
	return nil
}

// DisableWithRecoveryKey is the fallback for a lost authenticator device:
// a constant-time match on the stored recovery key clears the 2FA state the
// same way Disable does. The key is single-use because disabling removes it.
func (s *Service) DisableWithRecoveryKey(ctx context.Context, accountID uuid.UUID, suppliedKey string) error {
	err := s.mutate(ctx, accountID, func(a *ledger.Account) error {
		if !a.TwoFAEnabled {
			return ledger.ErrInvalidCode
		}
		if !RecoveryKeyMatches(suppliedKey, a.RecoveryKey) {
			return ledger.ErrInvalidCode
		}
		clearTwoFA(a)
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.TwoFADisables.WithLabelValues("recovery_key").Inc()
	}
	s.log.Info().Str("account_id", accountID.String()).Msg("2fa disabled via recovery key")
	return nil
}

// CheckEnabled reports whether the account has 2FA enabled.
func (s *Service) CheckEnabled(ctx context.Context, accountID uuid.UUID) (bool, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return a.TwoFAEnabled, nil
}

// VerifyLogin gates a login: accounts without 2FA pass immediately; enabled
// accounts need a valid code.
func (s *Service) VerifyLogin(ctx context.Context, accountID uuid.UUID, code string) (bool, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !a.TwoFAEnabled {
		return true, nil
	}
	ok := Verify(code, a.TOTPSecret)
	s.countVerification(ok)
	return ok, nil
}

// VerifyStored checks a code against the account's stored secret. Used by
// the step-up gate before sensitive ledger mutations. Returns ErrNotEnabled
// when the account has no second factor.
func (s *Service) VerifyStored(ctx context.Context, accountID uuid.UUID, code string) (bool, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !a.TwoFAEnabled {
		return false, ErrNotEnabled
	}
	ok := Verify(code, a.TOTPSecret)
	s.countVerification(ok)
	return ok, nil
}

func (s *Service) countVerification(ok bool) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "fail"
	}
	s.metrics.TOTPVerifications.WithLabelValues(result).Inc()
}

func clearTwoFA(a *ledger.Account) {
	a.TOTPSecret = ""
	a.RecoveryKey = ""
	a.TwoFAEnabled = false
}

// mutate runs a single-document conditional transaction with conflict
// retries.
func (s *Service) mutate(ctx context.Context, accountID uuid.UUID, apply func(a *ledger.Account) error) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.store.RunTransaction(ctx, []uuid.UUID{accountID}, func(txn *store.Txn) error {
			a, ok := txn.Account(accountID)
			if !ok {
				return store.ErrNotFound
			}
			if err := apply(a); err != nil {
				return err
			}
			txn.Put(a)
			return nil
		})
		if errors.Is(err, store.ErrConflict) {
			if s.metrics != nil {
				s.metrics.StoreConflicts.WithLabelValues("totp").Inc()
			}
			s.log.Warn().Str("account_id", accountID.String()).Int("attempt", attempt+1).
				Msg("2fa write conflict, retrying")
			continue
		}
		return err
	}
	return fmt.Errorf("2fa update: %w", ledger.ErrStorageConflict)
}
