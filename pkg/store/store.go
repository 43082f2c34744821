// Package store persists decisions and outcomes. Both tables are
// append-only: the stores expose no update or delete path, and the
// shipped DDL carries no UPDATE/DELETE-capable surface beyond INSERT
// and SELECT.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/crestline/advisor/pkg/contracts"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// DefaultWriteTimeout bounds one primary insert; a timed-out write is a
// failure and routes the decision to the DLQ.
const DefaultWriteTimeout = 5 * time.Second

// DecisionStore is the append-only decision table plus its read-side
// queries.
type DecisionStore interface {
	AppendDecision(ctx context.Context, d *contracts.Decision) error
	ByCorrelationID(ctx context.Context, correlationID string) (*contracts.Decision, error)
	BySymbolSince(ctx context.Context, symbol string, sinceMs int64) ([]contracts.Decision, error)
	LastN(ctx context.Context, n int) ([]contracts.Decision, error)
}

// OutcomeStore is the append-only decision_outcome table.
type OutcomeStore interface {
	AppendOutcome(ctx context.Context, o *contracts.DecisionOutcome) error
	OutcomesForDecision(ctx context.Context, decisionID string) ([]contracts.DecisionOutcome, error)
}

// SummaryCache is the optional best-effort decision summary cache
// (get/setex semantics). Absence or failure never affects correctness.
type SummaryCache interface {
	PutSummary(ctx context.Context, decisionID string, summary []byte, ttl time.Duration) error
	GetSummary(ctx context.Context, decisionID string) ([]byte, error)
}

// Memory is the read-only capability object handed to reasoning
// functions and reporting services. It wraps the stores and exposes
// queries only.
type Memory struct {
	decisions DecisionStore
	outcomes  OutcomeStore
}

// NewMemory builds the read-only accessor.
func NewMemory(decisions DecisionStore, outcomes OutcomeStore) *Memory {
	return &Memory{decisions: decisions, outcomes: outcomes}
}

// ByCorrelationID returns the decision for one correlation id.
func (m *Memory) ByCorrelationID(ctx context.Context, correlationID string) (*contracts.Decision, error) {
	return m.decisions.ByCorrelationID(ctx, correlationID)
}

// BySymbolSince returns decisions for a symbol at or after sinceMs.
func (m *Memory) BySymbolSince(ctx context.Context, symbol string, sinceMs int64) ([]contracts.Decision, error) {
	return m.decisions.BySymbolSince(ctx, symbol, sinceMs)
}

// LastN returns the n most recent decisions.
func (m *Memory) LastN(ctx context.Context, n int) ([]contracts.Decision, error) {
	return m.decisions.LastN(ctx, n)
}

// OutcomesForDecision returns recorded outcomes for one decision.
func (m *Memory) OutcomesForDecision(ctx context.Context, decisionID string) ([]contracts.DecisionOutcome, error) {
	return m.outcomes.OutcomesForDecision(ctx, decisionID)
}
