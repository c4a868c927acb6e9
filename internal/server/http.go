package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"railledger/internal/ingestion"
	"railledger/internal/observability"
	"railledger/internal/persistence"
	"railledger/internal/query"
)

// Server exposes the command and query surfaces as plain HTTP/JSON — see
// DESIGN.md's dropped-gRPC entry. It reuses the same /healthz, /readyz
// pattern the teacher's gRPC-Gateway half already served.
type Server struct {
	httpServer    *http.Server
	addr          string
	healthChecker *observability.HealthChecker
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewServer builds the HTTP mux and wraps it in an http.Server.
func NewServer(addr string, deps *Deps) *Server {
	mux := http.NewServeMux()

	if deps.HealthChecker != nil {
		mux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}

	q := &queryHandlers{qs: deps.QueryService}
	mux.HandleFunc("/v1/accounts", q.getAccount)
	mux.HandleFunc("/v1/rails", q.getRails)
	mux.HandleFunc("/v1/rail", q.getRail)
	mux.HandleFunc("/v1/approvals", q.getApproval)
	mux.HandleFunc("/v1/journal", q.getJournalHistory)
	mux.HandleFunc("/v1/admin/integrity", q.verifyIntegrity)

	a := &adminHandlers{ingest: deps.IngestService}
	mux.HandleFunc("/v1/admin/deposit", a.deposit)
	mux.HandleFunc("/v1/admin/withdraw", a.withdraw)
	mux.HandleFunc("/v1/admin/approve-operator", a.approveOperator)
	mux.HandleFunc("/v1/admin/terminate-rail", a.terminateRail)
	mux.HandleFunc("/v1/admin/settle-rail", a.settleRail)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		addr:       addr,
		healthChecker: deps.HealthChecker,
	}
}

// Mux exposes the underlying handler for tests that drive requests through
// httptest.NewServer instead of binding a real listener.
func (s *Server) Mux() http.Handler { return s.httpServer.Handler }

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- query handlers ---

type queryHandlers struct {
	qs *query.QueryService
}

func (q *queryHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	owner := r.URL.Query().Get("owner")
	if token == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "token and owner are required")
		return
	}

	resp, err := q.qs.GetAccount(r.Context(), token, owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (q *queryHandlers) getRail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a rail id")
		return
	}

	resp, err := q.qs.GetRail(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, "rail not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (q *queryHandlers) getRails(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}
	limit := parseLimit(r, 100)

	rails, err := q.qs.GetRailsByOwner(r.Context(), owner, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rails)
}

func (q *queryHandlers) getApproval(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	payer := r.URL.Query().Get("payer")
	operator := r.URL.Query().Get("operator")
	if token == "" || payer == "" || operator == "" {
		writeError(w, http.StatusBadRequest, "token, payer and operator are required")
		return
	}

	resp, err := q.qs.GetApproval(r.Context(), token, payer, operator)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (q *queryHandlers) getJournalHistory(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}
	limit := parseLimit(r, 100)

	var after *int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		after = &v
	}

	entries, err := q.qs.GetJournalHistory(r.Context(), owner, limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (q *queryHandlers) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := q.qs.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- admin handlers ---

// adminHandlers expose AdminIngestService over plain JSON POSTs. These
// enqueue onto the dispatcher's command channel and return as soon as the
// enqueue succeeds — the command itself is applied asynchronously by the
// single dispatcher goroutine, same as a NATS-delivered command, so a 202
// here means "accepted", not "applied".
type adminHandlers struct {
	ingest *ingestion.AdminIngestService
}

type depositRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (a *adminHandlers) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.ingest.InjectDeposit(r.Context(), req.Token, req.To, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type withdrawRequest struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

func (a *adminHandlers) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.ingest.InjectWithdraw(r.Context(), req.Token, req.Owner, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type approveOperatorRequest struct {
	Token           string `json:"token"`
	Payer           string `json:"payer"`
	Operator        string `json:"operator"`
	RateAllowance   string `json:"rate_allowance"`
	LockupAllowance string `json:"lockup_allowance"`
}

func (a *adminHandlers) approveOperator(w http.ResponseWriter, r *http.Request) {
	var req approveOperatorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.ingest.InjectApproveOperator(r.Context(), req.Token, req.Payer, req.Operator, req.RateAllowance, req.LockupAllowance); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type terminateRailRequest struct {
	RailID uint64 `json:"rail_id"`
	Caller string `json:"caller"`
}

func (a *adminHandlers) terminateRail(w http.ResponseWriter, r *http.Request) {
	var req terminateRailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.ingest.InjectTerminateRail(r.Context(), req.RailID, req.Caller); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type settleRailRequest struct {
	RailID          uint64 `json:"rail_id"`
	UntilEpoch      uint64 `json:"until_epoch"`
	SkipArbitration bool   `json:"skip_arbitration"`
}

func (a *adminHandlers) settleRail(w http.ResponseWriter, r *http.Request) {
	var req settleRailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.ingest.InjectSettleRail(r.Context(), req.RailID, req.UntilEpoch, req.SkipArbitration); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- helpers ---

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
