// Package event validates inbound raw events and assigns correlation IDs.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/crestline/advisor/pkg/contracts"
)

// eventSchema is the shape contract for inbound events. Anything beyond
// the required fields is passed through untouched.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_type", "symbol", "signal", "ts_ms"],
  "properties": {
    "correlation_id": {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "minLength": 1},
    "symbol": {"type": "string", "minLength": 1},
    "timeframe": {"type": "string"},
    "signal": {"type": "object"},
    "ts_ms": {"type": "integer", "minimum": 0},
    "metadata": {"type": "object"}
  }
}`

// ValidationError is a caller-fault rejection with a single-line reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validator shape-checks raw events against the event schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the event schema.
func NewValidator() (*Validator, error) {
	sch, err := jsonschema.CompileString("event.schema.json", eventSchema)
	if err != nil {
		return nil, fmt.Errorf("event: schema compile failed: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// Validate checks raw JSON against the event schema and returns the
// decoded Event. A missing correlation_id is assigned a random 128-bit
// id. Any shape failure comes back as a *ValidationError.
func (v *Validator) Validate(raw []byte) (*contracts.Event, *ValidationError) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := v.schema.Validate(generic); err != nil {
		return nil, &ValidationError{Reason: singleLine(err)}
	}

	var ev contracts.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("decode failed: %v", err)}
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.New().String()
	}
	return &ev, nil
}

// singleLine flattens a jsonschema validation error into one line for
// the EventResult reason field.
func singleLine(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return fmt.Sprintf("invalid event at %s: %s", loc, leaf.Message)
	}
	return err.Error()
}
