// Package contracts defines the data model shared by the decision
// orchestration core: inbound events, persisted decisions, advisory
// signals, policy audit rows, and executable plans.
package contracts

// Event is the inbound unit of work. Once admitted it is read-only for
// the remainder of processing; all derived state lives in other entities.
type Event struct {
	CorrelationID string         `json:"correlation_id"`
	EventType     string         `json:"event_type"`
	Symbol        string         `json:"symbol"`
	Timeframe     string         `json:"timeframe,omitempty"`
	Signal        map[string]any `json:"signal"`
	TsMs          int64          `json:"ts_ms"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ReasoningModeHint returns the reasoning mode carried in the event
// metadata, or "" when the event carries none.
func (e *Event) ReasoningModeHint() string {
	if e.Metadata == nil {
		return ""
	}
	if m, ok := e.Metadata["reasoning_mode"].(string); ok {
		return m
	}
	return ""
}

// Clone returns a deep-enough copy of the event for hand-off across
// component boundaries. Signal and Metadata maps are copied one level
// deep; nested values are treated as immutable payload.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Signal != nil {
		cp.Signal = make(map[string]any, len(e.Signal))
		for k, v := range e.Signal {
			cp.Signal[k] = v
		}
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
