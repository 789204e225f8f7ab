package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hypermesh-online/caesar-sub000/internal/account"
	"github.com/hypermesh-online/caesar-sub000/internal/domain"
	"github.com/hypermesh-online/caesar-sub000/internal/risk"
	"github.com/hypermesh-online/caesar-sub000/internal/storage"
)

// startAPIServer serves the transaction/demurrage/config JSON API.
func (s *Server) startAPIServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/transactions", s.handleTransaction)
	mux.HandleFunc("POST /v1/demurrage", s.handleDemurrage)
	mux.HandleFunc("GET /v1/demurrage", s.handleDemurrageQuote)
	mux.HandleFunc("GET /v1/fee", s.handleFee)
	mux.HandleFunc("GET /v1/breakers", s.handleBreakers)
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("PUT /v1/config", s.handlePutConfig)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.logger.Printf("Starting API server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("API server error: %v", err)
	}
}

// TransactionRequest is the JSON body for POST /v1/transactions.
// Amount is a decimal string in whole token units.
type TransactionRequest struct {
	Account      string `json:"account"`
	Amount       string `json:"amount"`
	Type         string `json:"type"`
	Counterparty string `json:"counterparty,omitempty"`
}

// AssessmentResponse is the JSON view of a risk assessment.
type AssessmentResponse struct {
	Account   string            `json:"account"`
	Timestamp int64             `json:"timestamp"`
	Score     int64             `json:"score"`
	Penalty   string            `json:"penalty"`
	Breakdown BreakdownResponse `json:"breakdown"`
	Flags     []string          `json:"flags"`
}

// BreakdownResponse carries the per-dimension risk scores.
type BreakdownResponse struct {
	Frequency    int64 `json:"frequency"`
	Volume       int64 `json:"volume"`
	Pattern      int64 `json:"pattern"`
	MarketImpact int64 `json:"market_impact"`
	Social       int64 `json:"social"`
	Behavioral   int64 `json:"behavioral"`
	Temporal     int64 `json:"temporal"`
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	assessment, err := s.engine.ProcessTransaction(r.Context(), risk.Transaction{
		Account:      req.Account,
		Amount:       amount,
		Type:         domain.TransactionType(req.Type),
		Counterparty: req.Counterparty,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	s.txProcessed++
	s.mu.Unlock()

	flags := make([]string, 0, len(assessment.Flags))
	for _, f := range assessment.Flags {
		flags = append(flags, string(f))
	}
	writeJSON(w, http.StatusOK, AssessmentResponse{
		Account:   assessment.Account,
		Timestamp: assessment.Timestamp,
		Score:     assessment.Score,
		Penalty:   assessment.Penalty.String(),
		Breakdown: BreakdownResponse{
			Frequency:    assessment.Breakdown.Frequency,
			Volume:       assessment.Breakdown.Volume,
			Pattern:      assessment.Breakdown.Pattern,
			MarketImpact: assessment.Breakdown.MarketImpact,
			Social:       assessment.Breakdown.Social,
			Behavioral:   assessment.Breakdown.Behavioral,
			Temporal:     assessment.Breakdown.Temporal,
		},
		Flags: flags,
	})
}

// DemurrageRequest is the JSON body for POST /v1/demurrage. Balance is a
// decimal string in whole token units.
type DemurrageRequest struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// DemurrageResponse reports the demurrage charged (or owed, for quotes).
type DemurrageResponse struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleDemurrage(w http.ResponseWriter, r *http.Request) {
	var req DemurrageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := parseAmount(req.Balance)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collected, err := s.engine.ApplyDemurrage(r.Context(), req.Account, balance)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, DemurrageResponse{Account: req.Account, Amount: collected.String()})
}

func (s *Server) handleDemurrageQuote(w http.ResponseWriter, r *http.Request) {
	acct := r.URL.Query().Get("account")
	balance, err := parseAmount(r.URL.Query().Get("balance"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owed, err := s.engine.CalculateDemurrage(r.Context(), acct, balance)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, DemurrageResponse{Account: acct, Amount: owed.String()})
}

// FeeResponse is the JSON response for GET /v1/fee.
type FeeResponse struct {
	Fee       string `json:"fee"`
	Deviation string `json:"deviation_sigma"`
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	volatility := r.URL.Query().Get("volatility")
	if volatility == "" {
		volatility = "0"
	}
	vol, err := parseAmount(volatility)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, deviation, err := s.engine.DynamicFee(r.Context(), amount, vol)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, FeeResponse{Fee: fee.String(), Deviation: deviation.String()})
}

// BreakersResponse is the JSON response for GET /v1/breakers.
type BreakersResponse struct {
	Price     string `json:"price"`
	Deviation string `json:"deviation_sigma"`
	Halt      bool   `json:"halt"`
	Emergency bool   `json:"emergency"`
	Rebase    bool   `json:"rebase"`
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	price, err := parseAmount(r.URL.Query().Get("price"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	breakers, err := s.engine.CheckCircuitBreakers(r.Context(), price)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	deviation, err := s.engine.DeviationScore(r.Context(), price)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, BreakersResponse{
		Price:     price.String(),
		Deviation: deviation.String(),
		Halt:      breakers.Halt,
		Emergency: breakers.Emergency,
		Rebase:    breakers.Rebase,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, configToPayload(cfg))
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var payload ConfigPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next, err := payload.toConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.UpdateConfig(r.Context(), next); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, configToPayload(cfg))
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	ConfigVersion uint64 `json:"config_version"`
	FeedUpdates   int    `json:"feed_updates"`
	FeedRejects   int    `json:"feed_rejects"`
	TxProcessed   int    `json:"tx_processed"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		ConfigVersion: cfg.Version,
		FeedUpdates:   s.feedUpdates,
		FeedRejects:   s.feedRejects,
		TxProcessed:   s.txProcessed,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, account.ErrInvalidKey),
		errors.Is(err, risk.ErrInvalidTransaction),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStaleVersion):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
