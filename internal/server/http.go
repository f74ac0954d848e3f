// Package server exposes the vault operations over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CoinVault/internal/dust"
	"CoinVault/internal/ledger"
	"CoinVault/internal/notify"
	"CoinVault/internal/observability"
	"CoinVault/internal/pricefeed"
	"CoinVault/internal/query"
	"CoinVault/internal/store"
	"CoinVault/internal/totp"
	"CoinVault/internal/trade"
	"CoinVault/internal/transfer"
)

// StartingCash is the cash balance a new account opens with.
var StartingCash = decimal.NewFromInt(10000)

type Server struct {
	store     store.Store
	trades    *trade.Executor
	transfers *transfer.Gate
	dust      *dust.Consolidator
	totp      *totp.Service
	feed      pricefeed.Feed
	portfolio *query.PortfolioService
	notify    *notify.Publisher
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func New(
	st store.Store,
	trades *trade.Executor,
	transfers *transfer.Gate,
	dustSvc *dust.Consolidator,
	totpSvc *totp.Service,
	feed pricefeed.Feed,
	publisher *notify.Publisher,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		store:     st,
		trades:    trades,
		transfers: transfers,
		dust:      dustSvc,
		totp:      totpSvc,
		feed:      feed,
		portfolio: query.NewPortfolioService(st, feed),
		notify:    publisher,
		log:       log,
		metrics:   metrics,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Route("/v1/accounts", func(r chi.Router) {
		r.Post("/", s.handleSignup)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/transactions", s.handleListTransactions)
			r.Post("/buy", s.handleBuy)
			r.Post("/sell", s.handleSell)
			r.Post("/transfers", s.handleTransfer)
			r.Post("/dust", s.handleDust)
			r.Route("/2fa", func(r chi.Router) {
				r.Post("/provision", s.handleProvision2FA)
				r.Post("/enable", s.handleEnable2FA)
				r.Post("/disable", s.handleDisable2FA)
				r.Post("/recovery-disable", s.handleRecoveryDisable2FA)
				r.Post("/verify", s.handleVerify2FA)
			})
		})
	})

	return r
}

// instrument records request count and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics == nil {
			return
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type accountView struct {
	ID           uuid.UUID       `json:"id"`
	DisplayName  string          `json:"display_name"`
	Email        string          `json:"email"`
	CashBalance  decimal.Decimal `json:"cash_balance"`
	Holdings     []holdingView   `json:"holdings"`
	TwoFAEnabled bool            `json:"two_fa_enabled"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type holdingView struct {
	CoinID   string           `json:"coin_id"`
	Amount   decimal.Decimal  `json:"amount"`
	AvgPrice *decimal.Decimal `json:"avg_price,omitempty"`
}

func viewAccount(a *ledger.Account) accountView {
	v := accountView{
		ID:           a.ID,
		DisplayName:  a.DisplayName,
		Email:        a.Email,
		CashBalance:  a.CashBalance,
		Holdings:     make([]holdingView, 0, len(a.Holdings)),
		TwoFAEnabled: a.TwoFAEnabled,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	for _, h := range a.Holdings {
		hv := holdingView{CoinID: h.AssetID, Amount: h.Amount}
		if h.BasisKnown() {
			price := h.AvgPrice
			hv.AvgPrice = &price
		}
		v.Holdings = append(v.Holdings, hv)
	}
	return v
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" || req.Email == "" {
		s.writeError(w, http.StatusBadRequest, "display_name and email are required")
		return
	}

	acct := ledger.NewAccount(req.DisplayName, req.Email, StartingCash)
	if err := s.store.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, store.ErrExists) {
			s.writeError(w, http.StatusConflict, "account already exists")
			return
		}
		s.serverError(w, err)
		return
	}
	if s.notify != nil {
		s.notify.AccountChanged(acct)
	}
	s.writeJSON(w, http.StatusCreated, viewAccount(acct))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	acct, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewAccount(acct))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	p, err := s.portfolio.Portfolio(r.Context(), id)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetAccount(r.Context(), id); err != nil {
		s.mapError(w, err)
		return
	}

	filter := store.TxFilter{}
	q := r.URL.Query()
	if t := q.Get("type"); t != "" {
		filter.Type = ledger.TxType(t)
		if !filter.Type.Valid() {
			s.writeError(w, http.StatusBadRequest, "unknown transaction type")
			return
		}
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		filter.Until = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	rows, err := s.store.ListTransactions(r.Context(), id, filter)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if rows == nil {
		rows = []ledger.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transactions": rows})
}

type tradeRequest struct {
	CoinID   string          `json:"coin_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.trades.Buy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.trades.Sell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request,
	exec func(ctx context.Context, accountID uuid.UUID, assetID string, qty, price decimal.Decimal) (*ledger.Transaction, error),
) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price := req.Price
	if price.IsZero() {
		quote, err := s.feed.CurrentPrice(r.Context(), req.CoinID)
		if err != nil {
			s.mapError(w, err)
			return
		}
		price = quote
	}

	row, err := exec(r.Context(), id, req.CoinID, req.Quantity, price)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.afterMutation(r, id, row)
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req struct {
		ReceiverID uuid.UUID       `json:"receiver_id"`
		Amount     decimal.Decimal `json:"amount"`
		Kind       string          `json:"kind"`
		AssetID    string          `json:"asset_id"`
		Code       string          `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = string(transfer.KindCash)
	}

	withdraw, deposit, err := s.transfers.Transfer(r.Context(), transfer.Request{
		SenderID:   id,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Kind:       transfer.Kind(req.Kind),
		AssetID:    req.AssetID,
	}, req.Code)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.afterMutation(r, id, withdraw)
	s.afterMutation(r, req.ReceiverID, deposit)
	s.writeJSON(w, http.StatusOK, withdraw)
}

func (s *Server) handleDust(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	acct, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.mapError(w, err)
		return
	}

	// Value each holding at the current quote. Assets with no quote are
	// left out of the valuation map and therefore kept.
	valuations := make(map[string]decimal.Decimal, len(acct.Holdings))
	for assetID, h := range acct.Holdings {
		price, err := s.feed.CurrentPrice(r.Context(), assetID)
		if err != nil {
			continue
		}
		valuations[assetID] = h.Amount.Mul(price)
	}

	res, err := s.dust.Consolidate(r.Context(), id, valuations)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.afterMutation(r, id, &res.Row)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"converted": res.Converted,
		"value":     res.Value,
	})
}

func (s *Server) handleProvision2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	acct, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.mapError(w, err)
		return
	}
	prov, err := totp.Provision(acct.Email)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"secret":       prov.Secret,
		"recovery_key": prov.RecoveryKey,
		"uri":          prov.URI,
	})
}

func (s *Server) handleEnable2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req struct {
		Code        string `json:"code"`
		Secret      string `json:"secret"`
		RecoveryKey string `json:"recovery_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.totp.Enable(r.Context(), id, req.Code, req.Secret, req.RecoveryKey); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) handleDisable2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.totp.Disable(r.Context(), id, req.Code); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleRecoveryDisable2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req struct {
		RecoveryKey string `json:"recovery_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.totp.DisableWithRecoveryKey(r.Context(), id, req.RecoveryKey); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleVerify2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok2, err := s.totp.VerifyLogin(r.Context(), id, req.Code)
	if err != nil {
		s.mapError(w, err)
		return
	}
	if !ok2 {
		s.writeError(w, http.StatusUnauthorized, "invalid code")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// afterMutation publishes change notifications for a committed write.
func (s *Server) afterMutation(r *http.Request, accountID uuid.UUID, row *ledger.Transaction) {
	if s.notify == nil {
		return
	}
	if acct, err := s.store.GetAccount(r.Context(), accountID); err == nil {
		s.notify.AccountChanged(acct)
	}
	if row != nil {
		s.notify.TransactionRecorded(row)
	}
}

func (s *Server) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid account id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrSelfTransfer):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrRecipientNotFound),
		errors.Is(err, ledger.ErrNoDustFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientHoldings),
		errors.Is(err, ledger.ErrStorageConflict), errors.Is(err, store.ErrExists):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInvalidCode):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ledger.ErrTransferFailed), errors.Is(err, pricefeed.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.serverError(w, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("internal error")
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}
