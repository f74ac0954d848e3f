package ledger

import "errors"

// Closed set of domain errors. Every ledger operation surfaces one of these
// (possibly wrapped); the HTTP layer maps them to status codes.
var (
	// ErrInvalidAmount rejects a non-positive quantity, price or transfer
	// amount before any state is read.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInsufficientFunds rejects a buy or cash debit exceeding the cash
	// balance.
	ErrInsufficientFunds = errors.New("insufficient cash balance")

	// ErrInsufficientHoldings rejects a sell or asset debit exceeding the
	// held amount (or with no holding at all).
	ErrInsufficientHoldings = errors.New("insufficient asset holdings")

	// ErrRecipientNotFound means the transfer receiver does not resolve to
	// an existing account.
	ErrRecipientNotFound = errors.New("recipient account not found")

	// ErrSelfTransfer rejects a transfer where sender and receiver are the
	// same account.
	ErrSelfTransfer = errors.New("cannot transfer to the same account")

	// ErrInvalidCode means a TOTP code or recovery key did not verify.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrTransferFailed is surfaced when the transfer transaction exhausted
	// its conflict-retry ceiling. Safe to retry verbatim.
	ErrTransferFailed = errors.New("transfer failed after retries")

	// ErrNoDustFound is the dust consolidator's no-op result.
	ErrNoDustFound = errors.New("no dust holdings found")

	// ErrStorageConflict is surfaced when a single-document mutation
	// exhausted its conflict-retry ceiling. Safe to retry verbatim.
	ErrStorageConflict = errors.New("storage conflict after retries")
)
