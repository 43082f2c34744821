// Package api exposes the orchestrator and scheduler over HTTP. The
// transport is deliberately thin: it frames requests, applies rate
// limiting, and delegates everything else to the core.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/advisor/pkg/contracts"
	"github.com/crestline/advisor/pkg/observability"
	"github.com/crestline/advisor/pkg/orchestrator"
	"github.com/crestline/advisor/pkg/scheduler"
	"github.com/crestline/advisor/pkg/store"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20 // 1 MiB

// Server routes HTTP requests into the core.
type Server struct {
	orch     *orchestrator.Orchestrator
	sched    *scheduler.Scheduler
	memory   *store.Memory
	outcomes store.OutcomeStore
	audit    *observability.PolicyAuditRing
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewServer builds the HTTP surface. sched, memory, and audit may be
// nil; their endpoints then return 404.
func NewServer(orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, memory *store.Memory, audit *observability.PolicyAuditRing) *Server {
	return &Server{
		orch:    orch,
		sched:   sched,
		memory:  memory,
		audit:   audit,
		limiter: NewRateLimiter(50, 100),
		logger:  slog.Default().With("component", "api"),
	}
}

// WithOutcomes enables the outcome recording endpoint.
func (s *Server) WithOutcomes(outcomes store.OutcomeStore) *Server {
	s.outcomes = outcomes
	return s
}

// Handler returns the routed, rate-limited handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleEvent)
	mux.HandleFunc("POST /v1/plans", s.handlePlan)
	mux.HandleFunc("GET /v1/decisions/{correlationID}", s.handleDecision)
	mux.HandleFunc("POST /v1/outcomes", s.handleOutcome)
	mux.HandleFunc("GET /v1/audit/policies", s.handleAudit)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.limiter.Middleware(mux)
}

// handleEvent runs one event through the pipeline. The handler never
// fails: even a discarded event is a 200 with its terminal result.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	result := s.orch.HandleEvent(r.Context(), raw)
	writeJSON(w, http.StatusOK, result)
}

type planRequest struct {
	Plan        *contracts.Plan `json:"plan"`
	Environment map[string]any  `json:"environment"`
	TimeoutMs   int64           `json:"timeout_ms,omitempty"`
}

// handlePlan executes a plan synchronously and returns its PlanResult.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.NotFound(w, r)
		return
	}
	var req planRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode plan request: "+err.Error())
		return
	}

	now := time.Now().UnixMilli()
	window := req.TimeoutMs
	if window <= 0 && req.Plan != nil {
		window = req.Plan.EffectiveTimeoutMs()
	}
	ec := &contracts.ExecutionContext{
		Plan:        req.Plan,
		ExecutionID: uuid.New().String(),
		StartedAtMs: now,
		DeadlineMs:  now + window,
		Environment: req.Environment,
		RequestID:   r.Header.Get("X-Request-Id"),
	}
	result := s.sched.Execute(r.Context(), req.Plan, ec)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		http.NotFound(w, r)
		return
	}
	d, err := s.memory.ByCorrelationID(r.Context(), r.PathValue("correlationID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "decision lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleOutcome records a realized outcome for a prior decision. The
// outcome class is always derived from PnL, never trusted from input.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		http.NotFound(w, r)
		return
	}
	var o contracts.DecisionOutcome
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "decode outcome: "+err.Error())
		return
	}
	if o.DecisionID == "" {
		writeError(w, http.StatusBadRequest, "decision_id is required")
		return
	}
	o.Outcome = contracts.DeriveOutcome(o.PnL)
	if o.CreatedAtMs == 0 {
		o.CreatedAtMs = time.Now().UnixMilli()
	}
	if err := s.outcomes.AppendOutcome(r.Context(), &o); err != nil {
		s.logger.ErrorContext(r.Context(), "outcome append failed", "error", err)
		writeError(w, http.StatusInternalServerError, "append failed")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.NotFound(w, r)
		return
	}
	n := 100
	if q := r.URL.Query().Get("n"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.audit.Recent(n))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
