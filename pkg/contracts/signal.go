package contracts

import "math"

// SignalType classifies an advisory signal.
type SignalType string

// Signal type constants.
const (
	SignalActionSuggestion SignalType = "action_suggestion"
	SignalRiskFlag         SignalType = "risk_flag"
	SignalOptimizationHint SignalType = "optimization_hint"
	SignalError            SignalType = "error"
	SignalTimeout          SignalType = "timeout"
)

// KnownSignalType reports whether t is one of the defined signal types.
func KnownSignalType(t SignalType) bool {
	switch t {
	case SignalActionSuggestion, SignalRiskFlag, SignalOptimizationHint, SignalError, SignalTimeout:
		return true
	}
	return false
}

// AdvisorySignal is a non-binding, informational output of a reasoning
// call. Error is populated only for the error and timeout types.
type AdvisorySignal struct {
	SignalType    SignalType `json:"signal_type"`
	Payload       any        `json:"payload,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	ReasoningMode string     `json:"reasoning_mode,omitempty"`
	DecisionID    string     `json:"decision_id,omitempty"`
	PlanID        string     `json:"plan_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	TsMs          int64      `json:"ts_ms"`
}

// ClampConfidence forces Confidence into [0.0, 1.0]. Non-numeric values
// (NaN, ±Inf) drop to nil, which downstream components treat as
// "no confidence stated".
func (s *AdvisorySignal) ClampConfidence() {
	if s.Confidence == nil {
		return
	}
	c := *s.Confidence
	if math.IsNaN(c) || math.IsInf(c, 0) {
		s.Confidence = nil
		return
	}
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	s.Confidence = &c
}

// IsErrorSignal reports whether the signal captures a reasoning fault.
func (s *AdvisorySignal) IsErrorSignal() bool {
	return s.SignalType == SignalError || s.SignalType == SignalTimeout
}

// Float64Ptr is a convenience for building signals with literal confidences.
func Float64Ptr(v float64) *float64 { return &v }
