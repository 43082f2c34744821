package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crestline/advisor/pkg/contracts"
)

// SQLiteStore is the embedded store used for single-node deployments
// and tests. Same append-only contract as the Postgres store.
type SQLiteStore struct {
	db           *sql.DB
	writeTimeout time.Duration
}

// NewSQLiteStore wraps db and creates the schema if missing.
func NewSQLiteStore(db *sql.DB, writeTimeout time.Duration) (*SQLiteStore, error) {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	s := &SQLiteStore{db: db, writeTimeout: writeTimeout}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS decision (
		decision_id       TEXT PRIMARY KEY,
		correlation_id    TEXT NOT NULL UNIQUE,
		symbol            TEXT NOT NULL,
		timeframe         TEXT NOT NULL DEFAULT '',
		signal            TEXT NOT NULL,
		reasoning_mode    TEXT NOT NULL,
		confidence        REAL NOT NULL,
		reasoning_time_ms INTEGER NOT NULL,
		advisory_signals  TEXT NOT NULL,
		policy_decisions  TEXT NOT NULL,
		decision_hash     TEXT NOT NULL,
		ts_ms             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decision_symbol ON decision (symbol);
	CREATE INDEX IF NOT EXISTS idx_decision_ts_ms ON decision (ts_ms);
	CREATE TABLE IF NOT EXISTS decision_outcome (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		decision_id TEXT NOT NULL REFERENCES decision (decision_id),
		symbol      TEXT NOT NULL,
		timeframe   TEXT NOT NULL DEFAULT '',
		signal_type TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		pnl         REAL NOT NULL,
		outcome     TEXT NOT NULL,
		exit_reason TEXT NOT NULL,
		closed_at   INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcome_decision ON decision_outcome (decision_id);
	CREATE INDEX IF NOT EXISTS idx_outcome_symbol ON decision_outcome (symbol);
	CREATE INDEX IF NOT EXISTS idx_outcome_created ON decision_outcome (created_at);`
	_, err := s.db.ExecContext(context.Background(), ddl)
	return err
}

const sqliteDecisionColumns = `decision_id, correlation_id, symbol, timeframe, signal, reasoning_mode,
	confidence, reasoning_time_ms, advisory_signals, policy_decisions, decision_hash, ts_ms`

// AppendDecision implements DecisionStore.
func (s *SQLiteStore) AppendDecision(ctx context.Context, d *contracts.Decision) error {
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

	query := `INSERT INTO decision (` + sqliteDecisionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		d.DecisionID, d.CorrelationID, d.Symbol, d.Timeframe, string(signalJSON), d.ReasoningMode,
		d.Confidence, d.ReasoningTimeMs, string(advisoryJSON), string(policyJSON), d.DecisionHash, d.TsMs,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.DecisionID, err)
	}
	return nil
}

// ByCorrelationID implements DecisionStore.
func (s *SQLiteStore) ByCorrelationID(ctx context.Context, correlationID string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDecisionColumns+` FROM decision WHERE correlation_id = ?`, correlationID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// BySymbolSince implements DecisionStore.
func (s *SQLiteStore) BySymbolSince(ctx context.Context, symbol string, sinceMs int64) ([]contracts.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDecisionColumns+` FROM decision WHERE symbol = ? AND ts_ms >= ? ORDER BY ts_ms ASC`,
		symbol, sinceMs)
	if err != nil {
		return nil, err
	}
	return scanDecisions(rows)
}

// LastN implements DecisionStore.
func (s *SQLiteStore) LastN(ctx context.Context, n int) ([]contracts.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDecisionColumns+` FROM decision ORDER BY ts_ms DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	return scanDecisions(rows)
}

// AppendOutcome implements OutcomeStore.
func (s *SQLiteStore) AppendOutcome(ctx context.Context, o *contracts.DecisionOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	query := `INSERT INTO decision_outcome
		(decision_id, symbol, timeframe, signal_type, entry_price, exit_price, pnl, outcome, exit_reason, closed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
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
func (s *SQLiteStore) OutcomesForDecision(ctx context.Context, decisionID string) ([]contracts.DecisionOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision_id, symbol, timeframe, signal_type, entry_price, exit_price, pnl, outcome, exit_reason, closed_at, created_at
		 FROM decision_outcome WHERE decision_id = ? ORDER BY created_at ASC`, decisionID)
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
