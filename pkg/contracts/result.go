package contracts

// EventState is the lifecycle state of one event inside the orchestrator.
type EventState string

// Event states. Pending is the only non-terminal state.
const (
	StatePending   EventState = "pending"
	StateProcessed EventState = "processed"
	StateDeferred  EventState = "deferred"
	StateEscalated EventState = "escalated"
	StateDiscarded EventState = "discarded"
)

// Terminal reports whether s admits no further transitions.
func (s EventState) Terminal() bool { return s != StatePending }

// StateTransition is one entry in the per-event audit trail.
type StateTransition struct {
	From   EventState `json:"from"`
	To     EventState `json:"to"`
	TsMs   int64      `json:"ts_ms"`
	Reason string     `json:"reason"`
}

// EventResult is what the orchestrator returns to the caller. Errors are
// encoded here as values; the handler never surfaces them as exceptions.
type EventResult struct {
	CorrelationID    string            `json:"correlation_id"`
	EventState       EventState        `json:"event_state"`
	DecisionID       string            `json:"decision_id,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	PolicyDecisions  []PolicyDecision  `json:"policy_decisions"`
	StateTransitions []StateTransition `json:"state_transitions"`
	Metadata         map[string]any    `json:"metadata"`
}

// RetryAfterMs returns the cooldown retry hint, or 0 when absent.
func (r *EventResult) RetryAfterMs() int64 {
	if r.Metadata == nil {
		return 0
	}
	if v, ok := r.Metadata["retry_after_ms"].(int64); ok {
		return v
	}
	return 0
}
