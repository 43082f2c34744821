package contracts

import "fmt"

// ErrorCode is a reserved scheduler error code.
type ErrorCode string

// Reserved error codes.
const (
	CodeContextMissing       ErrorCode = "CONTEXT_MISSING"
	CodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	CodeStepTimeout          ErrorCode = "STEP_TIMEOUT"
	CodePlanTimeout          ErrorCode = "PLAN_TIMEOUT"
	CodeDeadlineExceeded     ErrorCode = "DEADLINE_EXCEEDED"
	CodeDependencyUnresolved ErrorCode = "DEPENDENCY_UNRESOLVED"
	CodeActionNotFound       ErrorCode = "ACTION_NOT_FOUND"
	CodeResourceExhausted    ErrorCode = "RESOURCE_EXHAUSTED"
	CodeExecutionHalted      ErrorCode = "EXECUTION_HALTED"
	CodeStepSkipped          ErrorCode = "STEP_SKIPPED"
	CodeUnknown              ErrorCode = "UNKNOWN_ERROR"
)

// Severity grades an execution error.
type Severity string

// Severities. Fatal errors are never recoverable.
const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
	SeverityFatal Severity = "fatal"
)

// ExecutionError is the value form of a scheduler failure.
// Recoverable is derived from severity and kept in sync by the
// constructor; fatal implies not recoverable.
type ExecutionError struct {
	Code        ErrorCode      `json:"error_code"`
	Message     string         `json:"message"`
	StepID      string         `json:"step_id,omitempty"`
	Severity    Severity       `json:"severity"`
	Recoverable bool           `json:"recoverable"`
	Cause       string         `json:"cause,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// NewExecutionError builds an ExecutionError with Recoverable derived
// from the severity.
func NewExecutionError(code ErrorCode, severity Severity, message string) *ExecutionError {
	return &ExecutionError{
		Code:        code,
		Message:     message,
		Severity:    severity,
		Recoverable: severity != SeverityFatal,
	}
}

// WithStep attaches the failing step id.
func (e *ExecutionError) WithStep(stepID string) *ExecutionError {
	e.StepID = stepID
	return e
}

// WithCause attaches the underlying cause text.
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	if cause != nil {
		e.Cause = cause.Error()
	}
	return e
}

// Fatal reports whether the error aborts the plan unconditionally.
func (e *ExecutionError) Fatal() bool { return e.Severity == SeverityFatal }

// Error implements the error interface for logging; scheduler callers
// receive the struct, not this string.
func (e *ExecutionError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s [step %s]: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
