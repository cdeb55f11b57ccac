package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"
)

// HTTPServer is the JSON API: command submission against the engine,
// reads against the projection tables, plus health and metrics.
type HTTPServer struct {
	engine  *core.Engine
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	// SnapshotFunc triggers an engine snapshot; wired by the
	// orchestrator. Nil means the endpoint answers 501.
	SnapshotFunc func(ctx context.Context) (int64, error)

	httpServer *http.Server
}

func NewHTTPServer(
	addr string,
	engine *core.Engine,
	queries *query.Service,
	healthChecker *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		engine:  engine,
		queries: queries,
		health:  healthChecker,
		metrics: metrics,
		log:     log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/deposit", s.instrument("deposit", s.handleDeposit))
	mux.HandleFunc("POST /v1/withdraw", s.instrument("withdraw", s.handleWithdraw))
	mux.HandleFunc("POST /v1/claim", s.instrument("claim", s.handleClaim))
	mux.HandleFunc("POST /v1/epoch/contribute", s.instrument("contribute", s.handleContribute))
	mux.HandleFunc("POST /v1/fees", s.instrument("fees", s.handleFees))

	mux.HandleFunc("GET /v1/preview", s.instrument("preview", s.handlePreview))
	mux.HandleFunc("GET /v1/state", s.instrument("state", s.handleState))
	mux.HandleFunc("GET /v1/pool", s.instrument("pool", s.handlePool))
	mux.HandleFunc("GET /v1/epochs", s.instrument("epochs", s.handleEpochs))
	mux.HandleFunc("GET /v1/epochs/{epoch}", s.instrument("epoch", s.handleEpoch))
	mux.HandleFunc("GET /v1/users/{user}/tickets", s.instrument("tickets", s.handleTickets))
	mux.HandleFunc("GET /v1/users/{user}/positions", s.instrument("positions", s.handlePositions))
	mux.HandleFunc("GET /v1/users/{user}/balance", s.instrument("balance", s.handleBalance))
	mux.HandleFunc("GET /v1/events", s.instrument("events", s.handleEvents))

	mux.HandleFunc("POST /v1/admin/fund", s.instrument("fund", s.handleFund))
	mux.HandleFunc("POST /v1/admin/snapshot", s.instrument("snapshot", s.handleSnapshot))
	mux.HandleFunc("GET /v1/admin/status", s.instrument("status", s.handleStatus))
	mux.HandleFunc("GET /v1/admin/integrity", s.instrument("integrity", s.handleIntegrity))

	if healthChecker != nil {
		mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
	}
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the HTTP server until the context is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- command handlers ---

type depositBody struct {
	CommandID string `json:"command_id,omitempty"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var body depositBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if body.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	cmdID, err := commandID(body.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command_id")
		return
	}

	cmd := &event.DepositRequest{
		CommandID: cmdID,
		User:      userID,
		Amount:    body.Amount,
		Timestamp: commandTimestamp(body.Timestamp),
	}
	s.submit(w, cmd)
}

type withdrawBody struct {
	CommandID string `json:"command_id,omitempty"`
	UserID    string `json:"user_id"`
	Shares    int64  `json:"shares"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (s *HTTPServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var body withdrawBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if body.Shares <= 0 {
		writeError(w, http.StatusBadRequest, "shares must be positive")
		return
	}

	cmdID, err := commandID(body.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command_id")
		return
	}

	cmd := &event.WithdrawRequest{
		CommandID: cmdID,
		User:      userID,
		Shares:    body.Shares,
		Timestamp: commandTimestamp(body.Timestamp),
	}
	s.submit(w, cmd)
}

type claimBody struct {
	CommandID string `json:"command_id,omitempty"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (s *HTTPServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	cmdID, err := commandID(body.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command_id")
		return
	}

	cmd := &event.ClaimRequest{
		CommandID: cmdID,
		User:      userID,
		Timestamp: commandTimestamp(body.Timestamp),
	}
	s.submit(w, cmd)
}

type contributeBody struct {
	CommandID  string `json:"command_id,omitempty"`
	OperatorID string `json:"operator_id"`
	Nav        int64  `json:"nav"`
	AsOf       int64  `json:"as_of"`
}

func (s *HTTPServer) handleContribute(w http.ResponseWriter, r *http.Request) {
	var body contributeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	operatorID, err := uuid.Parse(body.OperatorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid operator_id")
		return
	}
	if body.Nav < 0 {
		writeError(w, http.StatusBadRequest, "nav must be non-negative")
		return
	}
	if body.AsOf <= 0 {
		writeError(w, http.StatusBadRequest, "as_of is required")
		return
	}

	cmdID, err := commandID(body.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command_id")
		return
	}

	cmd := &event.NavReport{
		CommandID: cmdID,
		Operator:  operatorID,
		Nav:       body.Nav,
		AsOf:      body.AsOf,
	}
	s.submit(w, cmd)
}

type feesBody struct {
	CommandID  string `json:"command_id,omitempty"`
	OperatorID string `json:"operator_id"`
	MgmtFeeWad int64  `json:"mgmt_fee_wad"`
	PerfFeeWad int64  `json:"perf_fee_wad"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

func (s *HTTPServer) handleFees(w http.ResponseWriter, r *http.Request) {
	var body feesBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	operatorID, err := uuid.Parse(body.OperatorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid operator_id")
		return
	}

	cmdID, err := commandID(body.CommandID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command_id")
		return
	}

	cmd := &event.FeeUpdate{
		CommandID:  cmdID,
		Operator:   operatorID,
		MgmtFeeWad: body.MgmtFeeWad,
		PerfFeeWad: body.PerfFeeWad,
		Timestamp:  commandTimestamp(body.Timestamp),
	}
	s.submit(w, cmd)
}

// submit runs a command through the engine and maps the outcome onto
// HTTP. Dispatch rejections come back 422 so callers can distinguish
// policy rejections from malformed requests.
func (s *HTTPServer) submit(w http.ResponseWriter, cmd event.Command) {
	env, err := s.engine.ProcessLocal(cmd)
	if err != nil {
		if strings.Contains(err.Error(), "sequence validation") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if env == nil {
		writeError(w, http.StatusConflict, "duplicate command")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence":   env.Sequence,
		"event_type": env.EventType.String(),
		"state_hash": hex.EncodeToString(env.StateHash[:]),
		"outcome":    json.RawMessage(env.Payload),
	})
}

// --- read handlers ---

func (s *HTTPServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	nav, err := strconv.ParseInt(r.URL.Query().Get("nav"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "nav query parameter is required")
		return
	}
	asOf, err := strconv.ParseInt(r.URL.Query().Get("as_of"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of query parameter is required")
		return
	}

	preview, err := s.engine.PreviewEpoch(nav, asOf)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.VaultState())
}

func (s *HTTPServer) handlePool(w http.ResponseWriter, r *http.Request) {
	state, err := s.queries.GetPoolState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleEpochs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 200)
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = &n
	}

	epochs, err := s.queries.ListEpochs(r.Context(), limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"epochs": epochs})
}

func (s *HTTPServer) handleEpoch(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(r.PathValue("epoch"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch")
		return
	}

	ep, err := s.queries.GetEpoch(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "epoch not finalized")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *HTTPServer) handleTickets(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		if v != "queued" && v != "settled" {
			writeError(w, http.StatusBadRequest, "status must be queued or settled")
			return
		}
		status = &v
	}

	tickets, err := s.queries.GetTickets(r.Context(), userID, status, queryLimit(r, 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tickets": tickets})
}

// handlePositions reads outstanding tickets from the engine itself,
// bypassing projection lag. Settled history lives on /tickets.
func (s *HTTPServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": s.engine.PositionsOf(userID),
	})
}

func (s *HTTPServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"shares":  s.engine.ShareBalance(userID),
		"assets":  s.engine.AccountBalance(userID),
	})
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	var userID *uuid.UUID
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = &id
	}

	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = &n
	}

	entries, err := s.queries.GetEventHistory(r.Context(), userID, queryLimit(r, 100, 500), before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

// --- admin handlers ---

type fundBody struct {
	Amount int64 `json:"amount"`
}

// handleFund reflects an out-of-band transfer into the operator's
// custody balance. Not an event-log operation; it only tops up the
// balance epoch transitions draw on.
func (s *HTTPServer) handleFund(w http.ResponseWriter, r *http.Request) {
	var body fundBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if err := s.engine.FundOperator(body.Amount); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operator": s.engine.Operator(),
		"balance":  s.engine.AccountBalance(s.engine.Operator()),
	})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.SnapshotFunc == nil {
		writeError(w, http.StatusNotImplemented, "snapshots not configured")
		return
	}
	seq, err := s.SnapshotFunc(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": seq})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash := s.engine.GetStateHash()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"next_sequence": s.engine.GetSequence(),
		"state_hash":    hex.EncodeToString(hash[:]),
		"operator":      s.engine.Operator(),
	})
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !report.IsHealthy {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

// --- helpers ---

func (s *HTTPServer) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// commandID parses the caller's idempotency key, minting one when the
// caller doesn't care about retries.
func commandID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func commandTimestamp(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return time.Now().Unix()
}

func queryLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
