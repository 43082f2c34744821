package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/crestline/advisor/pkg/contracts"
)

// PostgresStore is the primary decision/outcome store. Schema DDL (no
// UPDATE or DELETE path is ever issued by the core):
//
//	CREATE TABLE IF NOT EXISTS decision (
//	    decision_id       TEXT PRIMARY KEY,
//	    correlation_id    TEXT NOT NULL UNIQUE,
//	    symbol            TEXT NOT NULL,
//	    timeframe         TEXT NOT NULL DEFAULT '',
//	    signal            JSONB NOT NULL,
//	    reasoning_mode    TEXT NOT NULL,
//	    confidence        DOUBLE PRECISION NOT NULL,
//	    reasoning_time_ms BIGINT NOT NULL,
//	    advisory_signals  JSONB NOT NULL,
//	    policy_decisions  JSONB NOT NULL,
//	    decision_hash     TEXT NOT NULL,
//	    ts_ms             BIGINT NOT NULL
//	);
//	CREATE INDEX IF NOT EXISTS idx_decision_symbol ON decision (symbol);
//	CREATE INDEX IF NOT EXISTS idx_decision_ts_ms ON decision (ts_ms);
//
//	CREATE TABLE IF NOT EXISTS decision_outcome (
//	    id          BIGSERIAL PRIMARY KEY,
//	    decision_id TEXT NOT NULL REFERENCES decision (decision_id),
//	    symbol      TEXT NOT NULL,
//	    timeframe   TEXT NOT NULL DEFAULT '',
//	    signal_type TEXT NOT NULL,
//	    entry_price DOUBLE PRECISION NOT NULL,
//	    exit_price  DOUBLE PRECISION NOT NULL,
//	    pnl         DOUBLE PRECISION NOT NULL,
//	    outcome     TEXT NOT NULL,
//	    exit_reason TEXT NOT NULL,
//	    closed_at   BIGINT NOT NULL,
//	    created_at  BIGINT NOT NULL
//	);
//	CREATE INDEX IF NOT EXISTS idx_outcome_decision ON decision_outcome (decision_id);
//	CREATE INDEX IF NOT EXISTS idx_outcome_symbol ON decision_outcome (symbol);
//	CREATE INDEX IF NOT EXISTS idx_outcome_created ON decision_outcome (created_at);
type PostgresStore struct {
	db           *sql.DB
	writeTimeout time.Duration
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB, writeTimeout time.Duration) *PostgresStore {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &PostgresStore{db: db, writeTimeout: writeTimeout}
}

const pgDecisionColumns = `decision_id, correlation_id, symbol, timeframe, signal, reasoning_mode,
	confidence, reasoning_time_ms, advisory_signals, policy_decisions, decision_hash, ts_ms`

// AppendDecision inserts one decision row. The write is bounded by the
// store's write timeout; a timeout is a failure.
func (s *PostgresStore) AppendDecision(ctx context.Context, d *contracts.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	signalJSON, err := json.Marshal(d.Signal)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	advisoryJSON, err := json.Marshal(d.AdvisorySignals)
	if err != nil {
		return fmt.Errorf("encode advisory signals: %w", err)
	}
	policyJSON, err := json.Marshal(d.PolicyDecisions)
	if err != nil {
		return fmt.Errorf("encode policy decisions: %w", err)
	}

	query := `INSERT INTO decision (` + pgDecisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, query,
		d.DecisionID, d.CorrelationID, d.Symbol, d.Timeframe, signalJSON, d.ReasoningMode,
		d.Confidence, d.ReasoningTimeMs, advisoryJSON, policyJSON, d.DecisionHash, d.TsMs,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.DecisionID, err)
	}
	return nil
}

// ByCorrelationID implements DecisionStore.
func (s *PostgresStore) ByCorrelationID(ctx context.Context, correlationID string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgDecisionColumns+` FROM decision WHERE correlation_id = $1`, correlationID)
	return scanDecision(row)
}

// BySymbolSince implements DecisionStore.
func (s *PostgresStore) BySymbolSince(ctx context.Context, symbol string, sinceMs int64) ([]contracts.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgDecisionColumns+` FROM decision WHERE symbol = $1 AND ts_ms >= $2 ORDER BY ts_ms ASC`,
		symbol, sinceMs)
	if err != nil {
		return nil, err
	}
	return scanDecisions(rows)
}

// LastN implements DecisionStore.
func (s *PostgresStore) LastN(ctx context.Context, n int) ([]contracts.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgDecisionColumns+` FROM decision ORDER BY ts_ms DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	return scanDecisions(rows)
}

// AppendOutcome implements OutcomeStore.
func (s *PostgresStore) AppendOutcome(ctx context.Context, o *contracts.DecisionOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	query := `INSERT INTO decision_outcome
		(decision_id, symbol, timeframe, signal_type, entry_price, exit_price, pnl, outcome, exit_reason, closed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, query,
		o.DecisionID, o.Symbol, o.Timeframe, o.SignalType, o.EntryPrice, o.ExitPrice,
		o.PnL, string(o.Outcome), string(o.ExitReason), o.ClosedAtMs, o.CreatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("insert outcome for %s: %w", o.DecisionID, err)
	}
	return nil
}

// OutcomesForDecision implements OutcomeStore.
func (s *PostgresStore) OutcomesForDecision(ctx context.Context, decisionID string) ([]contracts.DecisionOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision_id, symbol, timeframe, signal_type, entry_price, exit_price, pnl, outcome, exit_reason, closed_at, created_at
		 FROM decision_outcome WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.DecisionOutcome
	for rows.Next() {
		var o contracts.DecisionOutcome
		var outcome, exitReason string
		if err := rows.Scan(&o.DecisionID, &o.Symbol, &o.Timeframe, &o.SignalType, &o.EntryPrice,
			&o.ExitPrice, &o.PnL, &outcome, &exitReason, &o.ClosedAtMs, &o.CreatedAtMs); err != nil {
			return nil, err
		}
		o.Outcome = contracts.Outcome(outcome)
		o.ExitReason = contracts.ExitReason(exitReason)
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*contracts.Decision, error) {
	var d contracts.Decision
	var signalJSON, advisoryJSON, policyJSON []byte
	err := row.Scan(&d.DecisionID, &d.CorrelationID, &d.Symbol, &d.Timeframe, &signalJSON,
		&d.ReasoningMode, &d.Confidence, &d.ReasoningTimeMs, &advisoryJSON, &policyJSON,
		&d.DecisionHash, &d.TsMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(signalJSON, &d.Signal); err != nil {
		return nil, fmt.Errorf("corrupt signal JSON for %s: %w", d.DecisionID, err)
	}
	if err := json.Unmarshal(advisoryJSON, &d.AdvisorySignals); err != nil {
		return nil, fmt.Errorf("corrupt advisory JSON for %s: %w", d.DecisionID, err)
	}
	if err := json.Unmarshal(policyJSON, &d.PolicyDecisions); err != nil {
		return nil, fmt.Errorf("corrupt policy JSON for %s: %w", d.DecisionID, err)
	}
	return &d, nil
}

func scanDecisions(rows *sql.Rows) ([]contracts.Decision, error) {
	defer func() { _ = rows.Close() }()
	var out []contracts.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
