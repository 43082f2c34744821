// Package scheduler executes plan DAGs. It is pure orchestration: what
// a step's action means is delegated to a caller-supplied dispatcher,
// and every failure surfaces as an ExecutionError inside the PlanResult
// rather than a Go error to the caller.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/crestline/advisor/pkg/contracts"
)

// Dispatcher executes one step. The context carries the step deadline.
// Returning a nil error marks the step successful; the output value, if
// any, is recorded in the result payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, step *contracts.PlanStep, ec *contracts.ExecutionContext) (any, *contracts.ExecutionError)
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, step *contracts.PlanStep, ec *contracts.ExecutionContext) (any, *contracts.ExecutionError)

// Dispatch implements Dispatcher.
func (f DispatchFunc) Dispatch(ctx context.Context, step *contracts.PlanStep, ec *contracts.ExecutionContext) (any, *contracts.ExecutionError) {
	return f(ctx, step, ec)
}

// Observer receives terminal plan events: plan_execution_success,
// plan_execution_partial, plan_execution_failure. Notification is
// best-effort; observer panics are absorbed.
type Observer func(event string, result *contracts.PlanResult)

// Scheduler drives plans sequentially within one execution. Multiple
// plans may execute concurrently through the same scheduler.
type Scheduler struct {
	dispatcher Dispatcher
	observer   Observer
	clock      func() time.Time
	logger     *slog.Logger
}

// New creates a scheduler around a dispatcher. observer may be nil.
func New(dispatcher Dispatcher, observer Observer) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		observer:   observer,
		clock:      time.Now,
		logger:     slog.Default().With("component", "scheduler"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Execute runs the plan under its execution context and returns a
// terminal PlanResult. It never returns a Go error.
func (s *Scheduler) Execute(ctx context.Context, plan *contracts.Plan, ec *contracts.ExecutionContext) *contracts.PlanResult {
	start := s.clock()
	result := &contracts.PlanResult{
		ExecutionID: ecID(ec),
	}
	if plan != nil {
		result.PlanID = plan.ID
		result.StepsTotal = len(plan.Steps)
	}

	if verr := validate(plan, ec); verr != nil {
		result.Status = contracts.PlanFailure
		result.Error = verr
		s.seal(ctx, result, start)
		return result
	}

	completed := make(map[string]bool, len(plan.Steps))
	stepStatus := make(map[string]any, len(plan.Steps))
	var planErr *contracts.ExecutionError

loop:
	for i := range plan.Steps {
		step := &plan.Steps[i]

		for _, dep := range step.DependsOn {
			if !completed[dep] {
				planErr = contracts.NewExecutionError(contracts.CodeDependencyUnresolved, contracts.SeverityFatal,
					"dependency did not complete: "+dep).WithStep(step.ID)
				break loop
			}
		}
		if planErr != nil {
			break
		}
		if s.clock().UnixMilli() > ec.DeadlineMs {
			planErr = contracts.NewExecutionError(contracts.CodeDeadlineExceeded, contracts.SeverityFatal,
				"execution deadline exceeded").WithStep(step.ID)
			break
		}

		output, serr := s.runStep(ctx, step, ec)
		if serr == nil {
			completed[step.ID] = true
			result.StepsExecuted++
			stepStatus[step.ID] = map[string]any{"status": "success", "output": output}
			continue
		}
		serr.StepID = step.ID

		switch step.OnFailure {
		case contracts.FailureSkip:
			// Skipped steps count as complete so dependents may run; the
			// first step error is retained for status inference.
			completed[step.ID] = true
			result.StepsExecuted++
			stepStatus[step.ID] = map[string]any{"status": "skipped", "error": serr.Message}
			if planErr == nil {
				planErr = serr
			}
			if serr.Fatal() {
				break loop
			}
		case contracts.FailureRetry:
			// Step-level retry is reserved; a retrying step's failure is
			// fatal until the retry loop ships.
			serr.Severity = contracts.SeverityFatal
			serr.Recoverable = false
			planErr = serr
			stepStatus[step.ID] = map[string]any{"status": "failed", "error": serr.Message}
			break loop
		default: // halt
			planErr = serr
			stepStatus[step.ID] = map[string]any{"status": "failed", "error": serr.Message}
			break loop
		}
	}

	result.Error = planErr
	result.ResultPayload = map[string]any{"steps": stepStatus}
	result.Status = inferStatus(planErr, result.StepsExecuted, len(plan.Steps))
	s.seal(ctx, result, start)
	return result
}

// runStep invokes the dispatcher under the step deadline, converting
// dispatcher panics into fatal UNKNOWN_ERROR values.
func (s *Scheduler) runStep(ctx context.Context, step *contracts.PlanStep, ec *contracts.ExecutionContext) (output any, serr *contracts.ExecutionError) {
	if step.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatcher panicked", "step_id", step.ID, "panic", r)
			output = nil
			serr = contracts.NewExecutionError(contracts.CodeUnknown, contracts.SeverityFatal, "dispatcher panic")
		}
	}()
	output, serr = s.dispatcher.Dispatch(ctx, step, ec)
	if serr == nil && ctx.Err() == context.DeadlineExceeded {
		serr = contracts.NewExecutionError(contracts.CodeStepTimeout, contracts.SeverityError,
			"step exceeded its timeout")
	}
	return output, serr
}

// inferStatus applies the deterministic status rules.
func inferStatus(err *contracts.ExecutionError, executed, total int) contracts.PlanStatus {
	switch {
	case err == nil && executed == total:
		return contracts.PlanSuccess
	case err != nil && !err.Fatal() && executed >= 1:
		return contracts.PlanPartial
	default:
		return contracts.PlanFailure
	}
}

// seal stamps timing and emits the terminal observer event.
func (s *Scheduler) seal(ctx context.Context, result *contracts.PlanResult, start time.Time) {
	now := s.clock()
	result.CompletedAtMs = now.UnixMilli()
	result.DurationMs = now.Sub(start).Milliseconds()

	if s.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WarnContext(ctx, "plan observer panicked", "panic", r)
		}
	}()
	s.observer("plan_execution_"+string(result.Status), result)
}

func ecID(ec *contracts.ExecutionContext) string {
	if ec == nil {
		return ""
	}
	return ec.ExecutionID
}
