// Package lifecycle tracks an event's progress from pending to exactly
// one terminal state and records each transition for the audit trail.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/crestline/advisor/pkg/contracts"
)

// InvalidTransitionError reports an attempt to leave a terminal state
// or to reach a state not adjacent to the current one.
type InvalidTransitionError struct {
	From contracts.EventState
	To   contracts.EventState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// Machine holds the state of a single in-flight event. Not safe for
// concurrent use; each event is driven by one goroutine.
type Machine struct {
	state       contracts.EventState
	transitions []contracts.StateTransition
	clock       func() time.Time
}

// NewMachine starts an event in the pending state.
func NewMachine() *Machine {
	return &Machine{state: contracts.StatePending, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (m *Machine) WithClock(clock func() time.Time) *Machine {
	m.clock = clock
	return m
}

// State returns the current state.
func (m *Machine) State() contracts.EventState { return m.state }

// Transitions returns the recorded history in order.
func (m *Machine) Transitions() []contracts.StateTransition { return m.transitions }

// Transition moves the event to a terminal state, recording the step
// with its reason. Only pending events may move, and only to a
// terminal state; everything else is rejected.
func (m *Machine) Transition(to contracts.EventState, reason string) error {
	if m.state != contracts.StatePending || !to.Terminal() {
		return &InvalidTransitionError{From: m.state, To: to}
	}
	m.transitions = append(m.transitions, contracts.StateTransition{
		From:   m.state,
		To:     to,
		TsMs:   m.clock().UnixMilli(),
		Reason: reason,
	})
	m.state = to
	return nil
}
