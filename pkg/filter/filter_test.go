package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/advisor/pkg/contracts"
)

func newFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := New()
	require.NoError(t, err)
	return f
}

func suggestion(conf float64) contracts.AdvisorySignal {
	return contracts.AdvisorySignal{
		SignalType: contracts.SignalActionSuggestion,
		Confidence: contracts.Float64Ptr(conf),
	}
}

func TestApplyMinConfidence(t *testing.T) {
	f := newFilter(t)
	pol := map[string]any{"min_confidence": 0.6}

	kept, audit := f.Apply(context.Background(), []contracts.AdvisorySignal{
		suggestion(0.8),
		suggestion(0.5),
	}, "price_alert", pol)

	require.Len(t, kept, 1)
	assert.Equal(t, 0.8, *kept[0].Confidence)

	require.Len(t, audit, 2)
	assert.False(t, audit[0].Applied)
	assert.Equal(t, "accepted", audit[0].Reason)
	assert.True(t, audit[1].Applied)
	assert.Contains(t, audit[1].Reason, "below_min_confidence")
}

func TestApplyPerTypeThresholdOverridesGlobal(t *testing.T) {
	f := newFilter(t)
	pol := map[string]any{
		"min_confidence": 0.2,
		"per_type":       map[string]any{"action_suggestion": 0.9},
	}

	kept, _ := f.Apply(context.Background(), []contracts.AdvisorySignal{
		suggestion(0.5),
		{SignalType: contracts.SignalRiskFlag, Confidence: contracts.Float64Ptr(0.5)},
	}, "price_alert", pol)

	require.Len(t, kept, 1)
	assert.Equal(t, contracts.SignalRiskFlag, kept[0].SignalType)
}

func TestApplyNilConfidenceIsKept(t *testing.T) {
	f := newFilter(t)
	pol := map[string]any{"min_confidence": 0.99}

	kept, _ := f.Apply(context.Background(), []contracts.AdvisorySignal{
		{SignalType: contracts.SignalError, Error: "something broke"},
	}, "price_alert", pol)

	require.Len(t, kept, 1, "signals without a stated confidence pass thresholds")
}

func TestApplyBlockedTypes(t *testing.T) {
	f := newFilter(t)
	pol := map[string]any{"blocked_types": []any{"optimization_hint"}}

	kept, audit := f.Apply(context.Background(), []contracts.AdvisorySignal{
		{SignalType: contracts.SignalOptimizationHint},
		suggestion(0.9),
	}, "price_alert", pol)

	require.Len(t, kept, 1)
	assert.Equal(t, contracts.SignalActionSuggestion, kept[0].SignalType)
	assert.Equal(t, "blocked_type:optimization_hint", audit[0].Reason)
}

func TestApplyVetoExpression(t *testing.T) {
	f := newFilter(t)
	pol := map[string]any{
		"veto_expr": `signal.signal_type == "action_suggestion" && event_type == "volume_spike"`,
	}

	kept, audit := f.Apply(context.Background(), []contracts.AdvisorySignal{
		suggestion(0.9),
	}, "volume_spike", pol)
	assert.Empty(t, kept)
	assert.Equal(t, "veto_expr", audit[0].Reason)

	// Same signal, different event type: veto does not fire.
	kept, _ = f.Apply(context.Background(), []contracts.AdvisorySignal{
		suggestion(0.9),
	}, "price_alert", pol)
	assert.Len(t, kept, 1)
}

func TestApplyBrokenVetoNeverDrops(t *testing.T) {
	f := newFilter(t)
	pol := map[string]any{"veto_expr": `this is not CEL (((`}

	kept, _ := f.Apply(context.Background(), []contracts.AdvisorySignal{
		suggestion(0.9),
	}, "price_alert", pol)
	assert.Len(t, kept, 1)
}

func TestApplyEmptyPolicyKeepsEverything(t *testing.T) {
	f := newFilter(t)

	signals := []contracts.AdvisorySignal{
		suggestion(0.01),
		{SignalType: contracts.SignalTimeout, Error: "reasoning_timeout_exceeded"},
	}
	kept, audit := f.Apply(context.Background(), signals, "price_alert", map[string]any{})
	assert.Len(t, kept, 2)
	assert.Len(t, audit, 2)
}
