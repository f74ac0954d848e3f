package transfer

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"CoinVault/internal/ledger"
	"CoinVault/internal/totp"
)

// Gate wraps the engine with a second-factor check on the sender. Accounts
// without a second factor pass through untouched; accounts with one must
// present a valid current code on every transfer. The gate holds no
// per-request state, so concurrent transfers from one sender are each
// authorized independently.
type Gate struct {
	engine *Engine
	totp   *totp.Service
	log    zerolog.Logger
}

func NewGate(engine *Engine, totpSvc *totp.Service, log zerolog.Logger) *Gate {
	return &Gate{engine: engine, totp: totpSvc, log: log}
}

// Transfer authorizes req against the sender's second factor and then
// delegates to the engine. The code check happens before any balance is
// read or written; a rejected code leaves both accounts untouched.
func (g *Gate) Transfer(ctx context.Context, req Request, code string) (*ledger.Transaction, *ledger.Transaction, error) {
	ok, err := g.totp.VerifyStored(ctx, req.SenderID, code)
	switch {
	case errors.Is(err, totp.ErrNotEnabled):
		// No second factor on the sender, pass through.
	case err != nil:
		return nil, nil, err
	case !ok:
		g.log.Warn().
			Str("sender_id", req.SenderID.String()).
			Msg("transfer rejected by second-factor gate")
		return nil, nil, ledger.ErrInvalidCode
	}
	return g.engine.Transfer(ctx, req)
}
