package contracts

// Plan limits enforced by the scheduler's pre-execution validation.
const (
	MaxPlanSteps       = 1024
	MaxPlanNameLen     = 255
	DefaultPlanTimeout = 300_000 // ms
)

// FailurePolicy is a step's on_failure behavior.
type FailurePolicy string

// Failure policies. Retry is reserved: the scheduler validates it but
// treats a retrying step's failure as fatal until step-level retry ships.
const (
	FailureHalt  FailurePolicy = "halt"
	FailureSkip  FailurePolicy = "skip"
	FailureRetry FailurePolicy = "retry"
)

// KnownFailurePolicy reports whether p is a defined on_failure value.
func KnownFailurePolicy(p FailurePolicy) bool {
	return p == FailureHalt || p == FailureSkip || p == FailureRetry
}

// Plan is an immutable DAG of steps with ordering constraints and
// per-step failure policies. Plans are one-shot: no resume, no
// checkpoint, no mid-flight modification.
type Plan struct {
	ID                  string         `json:"id"`
	Version             int            `json:"version"`
	CreatedAtMs         int64          `json:"created_at_ms"`
	Name                string         `json:"name"`
	Steps               []PlanStep     `json:"steps"`
	ContextRequirements []string       `json:"context_requirements"`
	Priority            int            `json:"priority,omitempty"`
	TimeoutMs           int64          `json:"timeout_ms,omitempty"`
	RetryPolicy         *RetryPolicy   `json:"retry_policy,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Tags                []string       `json:"tags,omitempty"`
	EstimatedDurationMs int64          `json:"estimated_duration_ms,omitempty"`
}

// EffectiveTimeoutMs returns the plan timeout, defaulted when unset.
func (p *Plan) EffectiveTimeoutMs() int64 {
	if p.TimeoutMs <= 0 {
		return DefaultPlanTimeout
	}
	return p.TimeoutMs
}

// PlanStep is a single node in the execution graph. DependsOn may only
// reference strictly earlier steps; forward references are rejected.
type PlanStep struct {
	ID        string        `json:"id"`
	Action    string        `json:"action"`
	Payload   any           `json:"payload,omitempty"`
	DependsOn []string      `json:"depends_on,omitempty"`
	OnFailure FailurePolicy `json:"on_failure"`
	TimeoutMs int64         `json:"timeout_ms,omitempty"`
}

// RetryPolicy shapes retries for components that honor it (DLQ,
// notifier; reserved for the scheduler).
type RetryPolicy struct {
	MaxAttempts         int      `json:"max_attempts"`
	BackoffMs           int64    `json:"backoff_ms"`
	BackoffMultiplier   float64  `json:"backoff_multiplier"`
	MaxBackoffMs        int64    `json:"max_backoff_ms"`
	RetryableErrorCodes []string `json:"retryable_error_codes,omitempty"`
}

// Normalize applies the documented defaults in place.
func (r *RetryPolicy) Normalize() {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	if r.BackoffMs < 0 {
		r.BackoffMs = 0
	}
	if r.BackoffMultiplier < 1.0 {
		r.BackoffMultiplier = 1.0
	}
	if r.MaxBackoffMs <= 0 {
		r.MaxBackoffMs = 60_000
	}
}

// ExecutionContext is the immutable environment one plan executes under.
// The scheduler checks key presence against the plan's
// context_requirements but never introspects the values.
type ExecutionContext struct {
	Plan               *Plan             `json:"plan"`
	ExecutionID        string            `json:"execution_id"`
	StartedAtMs        int64             `json:"started_at_ms"`
	DeadlineMs         int64             `json:"deadline_ms"`
	Environment        map[string]any    `json:"environment"`
	ParentExecutionID  string            `json:"parent_execution_id,omitempty"`
	UserID             string            `json:"user_id,omitempty"`
	RequestID          string            `json:"request_id,omitempty"`
	CorrelationContext map[string]string `json:"correlation_context,omitempty"`
}

// PlanStatus is the terminal status of one plan execution.
type PlanStatus string

// Plan statuses.
const (
	PlanSuccess PlanStatus = "success"
	PlanPartial PlanStatus = "partial"
	PlanFailure PlanStatus = "failure"
)

// PlanResult is the outcome of one plan execution. Scheduler errors
// surface here as ExecutionError values, never as Go errors to the caller.
type PlanResult struct {
	PlanID        string          `json:"plan_id"`
	ExecutionID   string          `json:"execution_id"`
	Status        PlanStatus      `json:"status"`
	CompletedAtMs int64           `json:"completed_at_ms"`
	DurationMs    int64           `json:"duration_ms"`
	StepsExecuted int             `json:"steps_executed"`
	StepsTotal    int             `json:"steps_total"`
	ResultPayload map[string]any  `json:"result_payload,omitempty"`
	Error         *ExecutionError `json:"error,omitempty"`
}
