// Package server exposes the engine over HTTP/JSON and a gRPC health
// endpoint. Mutations map engine errors to HTTP statuses; reads go through
// the query service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"SynthEngine/internal/engine"
	"SynthEngine/internal/ledger"
	"SynthEngine/internal/observability"
	"SynthEngine/internal/oracle"
	"SynthEngine/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HTTPServer serves the JSON API plus liveness and readiness probes.
type HTTPServer struct {
	server  *http.Server
	engine  *engine.Engine
	queries *query.Service
	health  *observability.HealthChecker
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewHTTPServer(
	addr string,
	eng *engine.Engine,
	queries *query.Service,
	health *observability.HealthChecker,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *HTTPServer {
	s := &HTTPServer{
		engine:  eng,
		queries: queries,
		health:  health,
		log:     logger,
		metrics: metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/constants", s.handleConstants)
		r.Get("/assets", s.handleAssets)
		r.Get("/assets/{asset}/usd-value", s.handleUsdValue)
		r.Get("/assets/{asset}/token-amount", s.handleTokenAmount)
		r.Get("/accounts/{address}", s.handleAccount)
		r.Get("/accounts/{address}/collateral/{asset}", s.handleCollateral)
		r.Get("/audit/events", s.handleAuditEvents)

		r.Post("/deposit", s.handleDeposit)
		r.Post("/mint", s.handleMint)
		r.Post("/deposit-and-mint", s.handleDepositAndMint)
		r.Post("/redeem", s.handleRedeem)
		r.Post("/burn", s.handleBurn)
		r.Post("/redeem-for-debt", s.handleRedeemForDebt)
		r.Post("/liquidate", s.handleLiquidate)
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Read handlers ---

func (s *HTTPServer) handleConstants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queries.Constants())
}

func (s *HTTPServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.queries.Assets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *HTTPServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	resp, err := s.queries.Account(r.Context(), account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCollateral(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	asset, ok := parseAddress(w, chi.URLParam(r, "asset"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.queries.Collateral(account, asset))
}

func (s *HTTPServer) handleUsdValue(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddress(w, chi.URLParam(r, "asset"))
	if !ok {
		return
	}
	amount, ok := parseWad(w, r.URL.Query().Get("amount"), "amount")
	if !ok {
		return
	}
	resp, err := s.queries.UsdValue(r.Context(), asset, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleTokenAmount(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddress(w, chi.URLParam(r, "asset"))
	if !ok {
		return
	}
	usd, ok := parseWad(w, r.URL.Query().Get("usd"), "usd")
	if !ok {
		return
	}
	resp, err := s.queries.TokenAmountFromUsd(r.Context(), asset, usd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.queries.AuditEvents(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []query.AuditEventResponse{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Mutation handlers ---

type depositRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	asset, ok := parseAddress(w, req.Asset)
	if !ok {
		return
	}
	amount, ok := parseWad(w, req.Amount, "amount")
	if !ok {
		return
	}
	s.finishMutation(w, s.engine.DepositCollateral(r.Context(), caller, asset, amount))
}

type mintRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *HTTPServer) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	amount, ok := parseWad(w, req.Amount, "amount")
	if !ok {
		return
	}
	s.finishMutation(w, s.engine.MintDebt(r.Context(), caller, amount))
}

type depositAndMintRequest struct {
	Caller           string `json:"caller"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	DebtAmount       string `json:"debt_amount"`
}

func (s *HTTPServer) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	asset, ok := parseAddress(w, req.Asset)
	if !ok {
		return
	}
	collateral, ok := parseWad(w, req.CollateralAmount, "collateral_amount")
	if !ok {
		return
	}
	debt, ok := parseWad(w, req.DebtAmount, "debt_amount")
	if !ok {
		return
	}
	s.finishMutation(w, s.engine.DepositCollateralAndMint(r.Context(), caller, asset, collateral, debt))
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	asset, ok := parseAddress(w, req.Asset)
	if !ok {
		return
	}
	amount, ok := parseWad(w, req.Amount, "amount")
	if !ok {
		return
	}
	s.finishMutation(w, s.engine.RedeemCollateral(r.Context(), caller, asset, amount))
}

func (s *HTTPServer) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	amount, ok := parseWad(w, req.Amount, "amount")
	if !ok {
		return
	}
	s.finishMutation(w, s.engine.BurnDebt(r.Context(), caller, amount))
}

func (s *HTTPServer) handleRedeemForDebt(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	asset, ok := parseAddress(w, req.Asset)
	if !ok {
		return
	}
	collateral, ok := parseWad(w, req.CollateralAmount, "collateral_amount")
	if !ok {
		return
	}
	debt, ok := parseWad(w, req.DebtAmount, "debt_amount")
	if !ok {
		return
	}
	s.finishMutation(w, s.engine.RedeemCollateralForDebt(r.Context(), caller, asset, collateral, debt))
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	Asset       string `json:"asset"`
	Account     string `json:"account"`
	DebtToCover string `json:"debt_to_cover"`
}

func (s *HTTPServer) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	liquidator, ok := parseAddress(w, req.Liquidator)
	if !ok {
		return
	}
	asset, ok := parseAddress(w, req.Asset)
	if !ok {
		return
	}
	account, ok := parseAddress(w, req.Account)
	if !ok {
		return
	}
	debtToCover, ok := parseWad(w, req.DebtToCover, "debt_to_cover")
	if !ok {
		return
	}
	s.finishMutation(w, s.engine.Liquidate(r.Context(), liquidator, asset, account, debtToCover))
}

// --- Plumbing ---

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPServer) finishMutation(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps domain errors to HTTP statuses. Invariant violations and
// balance shortfalls are client-resolvable (422); stale oracle data is a
// dependency failure (503).
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrUnapprovedAsset):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrBreaksHealthFactor),
		errors.Is(err, engine.ErrHealthFactorOk),
		errors.Is(err, engine.ErrHealthFactorNotImproved),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, engine.ErrExternalTransferFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, oracle.ErrStalePrice):
		status = http.StatusServiceUnavailable
	case errors.Is(err, query.ErrNoAuditStore):
		status = http.StatusNotImplemented
	default:
		status = http.StatusInternalServerError
		s.log.Error().Err(err).Msg("unhandled api error")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *HTTPServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			s.metrics.QueryRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
			s.metrics.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode body: %v", err)})
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address %q", raw)})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseWad(w http.ResponseWriter, raw, field string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid %s %q", field, raw)})
		return nil, false
	}
	return v, true
}
