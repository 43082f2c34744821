package contracts

// Decision is the immutable record persisted for every admitted event.
// Decisions are append-only: no update, no delete. DecisionHash is a
// deterministic digest over the hashable fields (everything minus
// timestamps).
type Decision struct {
	DecisionID      string           `json:"decision_id"`
	CorrelationID   string           `json:"correlation_id"`
	Symbol          string           `json:"symbol"`
	Timeframe       string           `json:"timeframe,omitempty"`
	Signal          map[string]any   `json:"signal"`
	ReasoningMode   string           `json:"reasoning_mode"`
	Confidence      float64          `json:"confidence"`
	ReasoningTimeMs int64            `json:"reasoning_time_ms"`
	AdvisorySignals []AdvisorySignal `json:"advisory_signals"`
	PolicyDecisions []PolicyDecision `json:"policy_decisions"`
	DecisionHash    string           `json:"decision_hash"`
	TsMs            int64            `json:"ts_ms"`
}

// Hashable returns the timestamp-free projection of the decision that
// DecisionHash is computed over. Signal ordering inside maps is handled
// by canonical JSON serialization, not here.
func (d *Decision) Hashable() map[string]any {
	signals := make([]map[string]any, 0, len(d.AdvisorySignals))
	for _, s := range d.AdvisorySignals {
		m := map[string]any{
			"signal_type": string(s.SignalType),
			"payload":     s.Payload,
		}
		if s.Confidence != nil {
			m["confidence"] = *s.Confidence
		}
		if s.Error != "" {
			m["error"] = s.Error
		}
		signals = append(signals, m)
	}
	policies := make([]map[string]any, 0, len(d.PolicyDecisions))
	for _, p := range d.PolicyDecisions {
		policies = append(policies, map[string]any{
			"policy_name": p.PolicyName,
			"applied":     p.Applied,
			"reason":      p.Reason,
		})
	}
	return map[string]any{
		"correlation_id":   d.CorrelationID,
		"symbol":           d.Symbol,
		"timeframe":        d.Timeframe,
		"signal":           d.Signal,
		"reasoning_mode":   d.ReasoningMode,
		"confidence":       d.Confidence,
		"advisory_signals": signals,
		"policy_decisions": policies,
	}
}

// PolicyDecision is one audit row: which policy looked at the subject,
// whether it acted on it (blocked or dropped it), and why.
type PolicyDecision struct {
	PolicyName string `json:"policy_name"`
	Applied    bool   `json:"applied"`
	Reason     string `json:"reason"`
	TsMs       int64  `json:"ts_ms"`
}

// Outcome classifies a closed position linked to a decision.
type Outcome string

// Outcome constants, derived from the sign of PnL.
const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// ExitReason records why a position linked to a decision was closed.
type ExitReason string

// Exit reason constants.
const (
	ExitTakeProfit ExitReason = "tp"
	ExitStopLoss   ExitReason = "sl"
	ExitManual     ExitReason = "manual"
	ExitTimeout    ExitReason = "timeout"
)

// DecisionOutcome links a realized outcome to a prior decision.
// Append-only, recorded after the fact by the host.
type DecisionOutcome struct {
	DecisionID  string     `json:"decision_id"`
	Symbol      string     `json:"symbol"`
	Timeframe   string     `json:"timeframe,omitempty"`
	SignalType  string     `json:"signal_type"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	PnL         float64    `json:"pnl"`
	Outcome     Outcome    `json:"outcome"`
	ExitReason  ExitReason `json:"exit_reason"`
	ClosedAtMs  int64      `json:"closed_at"`
	CreatedAtMs int64      `json:"created_at"`
}

// DeriveOutcome maps a PnL to its outcome class.
func DeriveOutcome(pnl float64) Outcome {
	switch {
	case pnl > 0:
		return OutcomeWin
	case pnl < 0:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}
