package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/crestline/advisor/pkg/contracts"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLiteStore(db, time.Second)
	require.NoError(t, err)
	return s
}

func sampleDecision(correlationID string) *contracts.Decision {
	return &contracts.Decision{
		DecisionID:      "d-" + correlationID,
		CorrelationID:   correlationID,
		Symbol:          "EURUSD",
		Timeframe:       "1h",
		Signal:          map[string]any{"rsi": 71.5},
		ReasoningMode:   "default",
		Confidence:      0.8,
		ReasoningTimeMs: 42,
		AdvisorySignals: []contracts.AdvisorySignal{{
			SignalType: contracts.SignalActionSuggestion,
			Confidence: contracts.Float64Ptr(0.8),
		}},
		PolicyDecisions: []contracts.PolicyDecision{{
			PolicyName: "signal_filter", Applied: false, Reason: "accepted",
		}},
		DecisionHash: "abc123",
		TsMs:         1_700_000_000_000,
	}
}

func TestSQLiteDecisionRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendDecision(ctx, sampleDecision("c-1")))

	got, err := s.ByCorrelationID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "d-c-1", got.DecisionID)
	assert.Equal(t, "EURUSD", got.Symbol)
	assert.Equal(t, 71.5, got.Signal["rsi"])
	require.Len(t, got.AdvisorySignals, 1)
	assert.Equal(t, 0.8, *got.AdvisorySignals[0].Confidence)
	require.Len(t, got.PolicyDecisions, 1)
	assert.Equal(t, "accepted", got.PolicyDecisions[0].Reason)
}

func TestSQLiteByCorrelationIDNotFound(t *testing.T) {
	s := newSQLiteStore(t)

	_, err := s.ByCorrelationID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUniqueCorrelationID(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	d1 := sampleDecision("c-1")
	d2 := sampleDecision("c-1")
	d2.DecisionID = "d-other"

	require.NoError(t, s.AppendDecision(ctx, d1))
	assert.Error(t, s.AppendDecision(ctx, d2), "correlation_id is unique")
}

func TestSQLiteBySymbolSinceAndLastN(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for i, corr := range []string{"c-1", "c-2", "c-3"} {
		d := sampleDecision(corr)
		d.TsMs = int64(1000 * (i + 1))
		require.NoError(t, s.AppendDecision(ctx, d))
	}

	since, err := s.BySymbolSince(ctx, "EURUSD", 2000)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, int64(2000), since[0].TsMs, "ascending by ts_ms")

	last, err := s.LastN(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, int64(3000), last[0].TsMs, "newest first")
}

func TestSQLiteOutcomeRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendDecision(ctx, sampleDecision("c-1")))
	o := &contracts.DecisionOutcome{
		DecisionID: "d-c-1",
		Symbol:     "EURUSD",
		SignalType: "action_suggestion",
		EntryPrice: 1.0850,
		ExitPrice:  1.0910,
		PnL:        60,
		Outcome:    contracts.DeriveOutcome(60),
		ExitReason: contracts.ExitTakeProfit,
		ClosedAtMs: 1_700_000_100_000,
		CreatedAtMs: 1_700_000_100_500,
	}
	require.NoError(t, s.AppendOutcome(ctx, o))

	got, err := s.OutcomesForDecision(ctx, "d-c-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, contracts.OutcomeWin, got[0].Outcome)
	assert.Equal(t, contracts.ExitTakeProfit, got[0].ExitReason)

	// Memory exposes the same rows read-only.
	mem := NewMemory(s, s)
	viaMem, err := mem.OutcomesForDecision(ctx, "d-c-1")
	require.NoError(t, err)
	assert.Equal(t, got, viaMem)
}
