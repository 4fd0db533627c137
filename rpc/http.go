package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenvault/core/events"
	"tokenvault/observability"
	"tokenvault/vault"
)

// Server exposes the vault engine over HTTP.
type Server struct {
	engine  *vault.Engine
	events  *events.Buffer
	auth    *Authenticator
	logger  *slog.Logger
	metrics *observability.VaultMetrics
}

// NewServer wires the engine with its HTTP surface. The event buffer and
// authenticator are optional.
func NewServer(engine *vault.Engine, buffer *events.Buffer, auth *Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		events:  buffer,
		auth:    auth,
		logger:  logger,
		metrics: observability.Metrics(),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.timing)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/vault", func(vr chi.Router) {
		vr.Post("/deposits/native", s.handleDepositNative)
		vr.Post("/deposits/token", s.handleDepositToken)
		vr.Post("/withdrawals/native", s.handleWithdrawNative)
		vr.Post("/withdrawals/token", s.handleWithdrawToken)
		vr.Get("/balances/{asset}/{account}", s.handleBalance)
		vr.Get("/totals", s.handleTotals)
		vr.Get("/events", s.handleEvents)
	})

	r.Route("/v1/admin", func(ar chi.Router) {
		if s.auth != nil {
			ar.Use(s.auth.Middleware(ScopeVaultAdmin))
		}
		ar.Post("/pause", s.handlePause)
		ar.Post("/feeds", s.handleFeeds)
		ar.Post("/roles/grant", s.handleRoleGrant)
		ar.Post("/roles/revoke", s.handleRoleRevoke)
	})

	return r
}

func (s *Server) timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.metrics.ObserveLatency(r.URL.Path, time.Since(start).Seconds())
	})
}

type receiptResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Asset     string `json:"asset"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

func newReceiptResponse(receipt *vault.Receipt) receiptResponse {
	return receiptResponse{
		ID:        receipt.ID,
		Kind:      receipt.Kind,
		Asset:     string(receipt.Asset),
		Account:   ethcommon.Address(receipt.Account).Hex(),
		Amount:    receipt.Amount.String(),
		Value:     receipt.Value.String(),
		Timestamp: receipt.Timestamp,
	}
}

type depositNativeRequest struct {
	Caller   string `json:"caller"`
	Amount   string `json:"amount"`
	Attached string `json:"attached"`
}

func (s *Server) handleDepositNative(w http.ResponseWriter, r *http.Request) {
	var req depositNativeRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseAddress(w, req.Caller)
	if !ok {
		return
	}
	amount, ok := s.parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	attached, ok := s.parseAmount(w, "attached", req.Attached)
	if !ok {
		return
	}
	receipt, err := s.engine.DepositNative(caller, amount, attached)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.committed(receipt)
	s.writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type tokenOpRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleDepositToken(w http.ResponseWriter, r *http.Request) {
	var req tokenOpRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseAddress(w, req.Caller)
	if !ok {
		return
	}
	asset, ok := s.parseAsset(w, req.Asset)
	if !ok {
		return
	}
	amount, ok := s.parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	receipt, err := s.engine.DepositToken(caller, asset, amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.committed(receipt)
	s.writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type withdrawNativeRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleWithdrawNative(w http.ResponseWriter, r *http.Request) {
	var req withdrawNativeRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseAddress(w, req.Caller)
	if !ok {
		return
	}
	amount, ok := s.parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	receipt, err := s.engine.WithdrawNative(caller, amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.committed(receipt)
	s.writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

func (s *Server) handleWithdrawToken(w http.ResponseWriter, r *http.Request) {
	var req tokenOpRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseAddress(w, req.Caller)
	if !ok {
		return
	}
	asset, ok := s.parseAsset(w, req.Asset)
	if !ok {
		return
	}
	amount, ok := s.parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	receipt, err := s.engine.WithdrawToken(caller, asset, amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.committed(receipt)
	s.writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, chi.URLParam(r, "asset"))
	if !ok {
		return
	}
	account, ok := s.parseAddress(w, chi.URLParam(r, "account"))
	if !ok {
		return
	}
	balance := s.engine.BalanceOf(asset, account)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"asset":   string(asset),
		"account": ethcommon.Address(account).Hex(),
		"amount":  balance.String(),
	})
}

func (s *Server) handleTotals(w http.ResponseWriter, _ *http.Request) {
	exposure, globalCeiling, perWithdraw := s.engine.Totals()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"aggregateExposure":    exposure.String(),
		"globalCeiling":        globalCeiling.String(),
		"perWithdrawalCeiling": perWithdraw.String(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusOK, []events.Event{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.events.Recent())
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseAddress(w, req.Caller)
	if !ok {
		return
	}
	if err := s.engine.SetPaused(caller, req.Paused); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

type feedRequest struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	FeedURL  string `json:"feedUrl"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseAddress(w, req.Caller)
	if !ok {
		return
	}
	asset, ok := s.parseAsset(w, req.Asset)
	if !ok {
		return
	}
	if strings.TrimSpace(req.FeedURL) == "" {
		s.writeError(w, http.StatusBadRequest, "feedUrl required")
		return
	}
	source := vault.NewHTTPSource(req.FeedURL)
	if err := s.engine.SetFeed(caller, asset, source, req.Decimals); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"asset": string(asset)})
}

type roleRequest struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) handleRoleGrant(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, true)
}

func (s *Server) handleRoleRevoke(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, false)
}

func (s *Server) handleRoleChange(w http.ResponseWriter, r *http.Request, grant bool) {
	var req roleRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseAddress(w, req.Caller)
	if !ok {
		return
	}
	target, ok := s.parseAddress(w, req.Address)
	if !ok {
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		s.writeError(w, http.StatusBadRequest, "role required")
		return
	}
	var err error
	if grant {
		err = s.engine.GrantRole(caller, role, target)
	} else {
		err = s.engine.RevokeRole(caller, role, target)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"role": role})
}

func (s *Server) committed(receipt *vault.Receipt) {
	if receipt.Kind == vault.ReceiptKindDeposit {
		s.metrics.ObserveDeposit(string(receipt.Asset))
	} else {
		s.metrics.ObserveWithdrawal(string(receipt.Asset))
	}
	exposure, _, _ := s.engine.Totals()
	s.metrics.SetExposure(exposure.BigInt())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) parseAddress(w http.ResponseWriter, raw string) ([20]byte, bool) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", raw))
		return [20]byte{}, false
	}
	return [20]byte(ethcommon.HexToAddress(trimmed)), true
}

func (s *Server) parseAsset(w http.ResponseWriter, raw string) (vault.Asset, bool) {
	asset, err := vault.NormalizeAsset(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return asset, true
}

func (s *Server) parseAmount(w http.ResponseWriter, field, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", field, raw))
		return nil, false
	}
	return amount, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var (
		capErr     *vault.CapExceededError
		balanceErr *vault.InsufficientBalanceError
		limitErr   *vault.WithdrawLimitError
		feedErr    *vault.FeedNotConfiguredError
	)
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		s.reject(w, http.StatusForbidden, "unauthorized", err)
	case errors.Is(err, vault.ErrPaused):
		s.reject(w, http.StatusConflict, "paused", err)
	case errors.Is(err, vault.ErrZeroAmount):
		s.reject(w, http.StatusBadRequest, "zero_amount", err)
	case errors.Is(err, vault.ErrNativeMismatch):
		s.reject(w, http.StatusBadRequest, "native_mismatch", err)
	case errors.Is(err, vault.ErrUnexpectedPayment):
		s.reject(w, http.StatusBadRequest, "unexpected_payment", err)
	case errors.As(err, &capErr):
		s.reject(w, http.StatusConflict, "cap_exceeded", err)
	case errors.As(err, &balanceErr):
		s.reject(w, http.StatusConflict, "insufficient_balance", err)
	case errors.As(err, &limitErr):
		s.reject(w, http.StatusConflict, "withdraw_above_limit", err)
	case errors.As(err, &feedErr):
		s.reject(w, http.StatusNotFound, "feed_not_configured", err)
	case errors.Is(err, vault.ErrInvalidPrice):
		s.reject(w, http.StatusBadGateway, "invalid_price", err)
	case errors.Is(err, vault.ErrTransferFailed):
		s.reject(w, http.StatusBadGateway, "transfer_failed", err)
	default:
		s.logger.Error("vault operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) reject(w http.ResponseWriter, status int, reason string, err error) {
	s.metrics.ObserveRejection(reason)
	s.writeJSON(w, status, map[string]string{"error": reason, "detail": err.Error()})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
